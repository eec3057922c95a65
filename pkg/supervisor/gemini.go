package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"google.golang.org/genai"
)

// GeminiResponder runs the supervisor on a Gemini model.
type GeminiResponder struct {
	Client *genai.Client
	Model  string
}

// NewGeminiResponder builds a responder against the Gemini API backend.
// baseURL is optional.
func NewGeminiResponder(ctx context.Context, apiKey, model, baseURL string) (*GeminiResponder, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiResponder{Client: client, Model: model}, nil
}

func (g *GeminiResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	if g == nil || g.Client == nil {
		return nil, fmt.Errorf("gemini client is not configured")
	}
	model := g.Model
	if model == "" {
		model = req.Model
	}
	contents, err := geminiContents(req.Input)
	if err != nil {
		return nil, err
	}
	cfg := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}}
	}
	if decls := geminiDeclarations(req.Tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.Client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}
	return geminiOutput(resp), nil
}

func geminiDeclarations(tools []types.Tool) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			decl.ParametersJsonSchema = t.Parameters
		}
		out = append(out, decl)
	}
	return out
}

// geminiContents maps supervisor items to Gemini turns. Function calls are
// model turns and their outputs are user turns.
func geminiContents(items []Item) ([]*genai.Content, error) {
	names := make(map[string]string)
	out := make([]*genai.Content, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case types.ItemTypeMessage:
			role := "user"
			if it.Role == types.RoleAssistant {
				role = "model"
			}
			out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: it.Text}}})
		case types.ItemTypeFunctionCall:
			args := map[string]any{}
			if it.Arguments != "" {
				if err := json.Unmarshal([]byte(it.Arguments), &args); err != nil {
					return nil, fmt.Errorf("function call %q arguments: %w", it.Name, err)
				}
			}
			names[it.CallID] = it.Name
			out = append(out, &genai.Content{Role: "model", Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{ID: it.CallID, Name: it.Name, Args: args},
			}}})
		case types.ItemTypeFunctionCallOutput:
			var result any
			if err := json.Unmarshal([]byte(it.Output), &result); err != nil {
				result = it.Output
			}
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{ID: it.CallID, Name: names[it.CallID], Response: map[string]any{"output": result}},
			}}})
		default:
			return nil, fmt.Errorf("unsupported supervisor item type %q", it.Type)
		}
	}
	return out, nil
}

func geminiOutput(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args, _ := json.Marshal(fc.Args)
			out.Output = append(out.Output, Item{Type: types.ItemTypeFunctionCall, CallID: id, Name: fc.Name, Arguments: string(args)})
			continue
		}
		if part.Text != "" && !part.Thought {
			text += part.Text
		}
	}
	if text != "" {
		out.Output = append(out.Output, Item{Type: types.ItemTypeMessage, Role: types.RoleAssistant, Text: text})
	}
	return out
}
