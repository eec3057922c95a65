// Package supervisor implements the two-tier escalation pattern: a front
// agent defers a decision to a more capable reasoning process, which may run
// a bounded loop of local tool calls before producing the final answer.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/metrics"
	"github.com/vango-go/vai-agents/pkg/tools"
)

const (
	DefaultMaxIterations = 8
	DefaultTimeout       = 45 * time.Second

	// FallbackMessage is the only error text the front agent ever sees.
	FallbackMessage = "Something went wrong."
)

// Item is one entry of the supervisor request context.
type Item struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Text      string `json:"text,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type Request struct {
	Model        string
	Instructions string
	Input        []Item
	Tools        []types.Tool
}

type Response struct {
	Output []Item
}

// FunctionCalls returns the function_call items in output order.
func (r *Response) FunctionCalls() []Item {
	if r == nil {
		return nil
	}
	var out []Item
	for _, it := range r.Output {
		if it.Type == types.ItemTypeFunctionCall {
			out = append(out, it)
		}
	}
	return out
}

// Text joins the text of every message item with newlines.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, it := range r.Output {
		if it.Type == types.ItemTypeMessage && it.Text != "" {
			parts = append(parts, it.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Responder issues one request to the reasoning process.
type Responder interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}

type Escalator struct {
	Responder    Responder
	Model        string
	Instructions string

	// Local is the closed set of handlers the reasoning process may call.
	Local *tools.Registry

	MaxIterations int
	Timeout       time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Escalate runs one escalation to completion. The returned error is always a
// *core.Error: escalation_exhausted when the iteration or time bound is hit,
// transport_error when a request fails.
func (e *Escalator) Escalate(ctx context.Context, relevantContext string, history []types.HistoryItem, tc *tools.Context) (string, error) {
	logger := e.logger()
	if e.Responder == nil {
		return "", core.NewConfigurationError("supervisor responder is not configured")
	}
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{
		Model:        e.Model,
		Instructions: e.Instructions,
		Input: []Item{{
			Type: types.ItemTypeMessage,
			Role: types.RoleUser,
			Text: composeContext(history, relevantContext),
		}},
		Tools: e.Local.Tools(),
	}

	for iter := 1; ; iter++ {
		if iter > maxIter {
			e.Metrics.RecordSupervisor("max_iterations", iter-1)
			logger.Warn("supervisor escalation exhausted", "reason", "max_iterations", "iterations", iter-1)
			return "", core.NewEscalationExhaustedError(fmt.Sprintf("supervisor did not converge within %d requests", maxIter), "max_iterations")
		}

		resp, err := e.Responder.Respond(ctx, req)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				e.Metrics.RecordSupervisor("timeout", iter)
				logger.Warn("supervisor escalation exhausted", "reason", "timeout", "iterations", iter, "error", err)
				return "", core.NewEscalationExhaustedError(fmt.Sprintf("supervisor did not answer within %s", timeout), "timeout")
			}
			e.Metrics.RecordSupervisor("error", iter)
			logger.Warn("supervisor request failed", "iteration", iter, "error", err)
			return "", core.NewTransportError("supervisor request failed", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			e.Metrics.RecordSupervisor("ok", iter)
			return resp.Text(), nil
		}

		for _, call := range calls {
			tc.Breadcrumb("[supervisorAgent] function call: "+call.Name, decodeArgs(call.Arguments))
			res := e.Local.Execute(ctx, call.Name, call.Arguments, tc)
			var shown any = res.Output
			if res.Err != nil {
				shown = res.Err
				logger.Debug("supervisor tool failed", "tool", call.Name, "error", res.Err)
			}
			tc.Breadcrumb("[supervisorAgent] function call result: "+call.Name, shown)

			req.Input = append(req.Input,
				Item{Type: types.ItemTypeFunctionCall, CallID: call.CallID, Name: call.Name, Arguments: call.Arguments},
				Item{Type: types.ItemTypeFunctionCallOutput, CallID: call.CallID, Output: res.JSON()},
			)
		}
	}
}

func (e *Escalator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

type historyLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// composeContext renders the message-type history and the caller's context
// string as the single user turn sent to the supervisor.
func composeContext(history []types.HistoryItem, relevantContext string) string {
	lines := make([]historyLine, 0, len(history))
	for _, h := range history {
		if !h.IsMessage() {
			continue
		}
		lines = append(lines, historyLine{Role: h.Role, Text: h.Text()})
	}
	data, _ := json.Marshal(lines)

	var b strings.Builder
	b.WriteString("==== Conversation History ====\n")
	b.Write(data)
	b.WriteString("\n\n==== Relevant Context From Last User Message ===\n")
	b.WriteString(relevantContext)
	return b.String()
}

func decodeArgs(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
