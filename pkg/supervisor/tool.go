package supervisor

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/tools"
)

const (
	ToolName        = "getNextResponseFromSupervisor"
	ContextParamKey = "relevantContextFromLastUserMessage"
)

// Definition is the front agent's escalation tool. Its result is either
// {"nextResponse": text} or a structured error carrying FallbackMessage.
func (e *Escalator) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Determines the next response whenever the agent faces a non-trivial decision, produced by a highly intelligent supervisor agent. " +
			"Returns a message describing what to do next.",
		Parameters: tools.Object(map[string]*jsonschema.Schema{
			ContextParamKey: tools.String("Key information from the user described in their most recent message. " +
				"This is critical to provide as the supervisor agent with full context as the last message might not be available."),
		}, ContextParamKey),
		Handler: e.handle,
	}
}

func (e *Escalator) handle(ctx context.Context, input map[string]any, tc *tools.Context) (any, error) {
	relevant, _ := input[ContextParamKey].(string)
	text, err := e.Escalate(ctx, relevant, tc.HistorySnapshot(), tc)
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce != nil {
			return nil, &core.Error{Type: ce.Type, Message: FallbackMessage, Code: ce.Code}
		}
		return nil, core.NewTransportError(FallbackMessage, err)
	}
	return map[string]any{"nextResponse": text}, nil
}
