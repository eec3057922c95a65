package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-agents/pkg/core/types"
)

// ResponsesAPI is the subset of the upstream client used here.
type ResponsesAPI interface {
	CreateResponse(ctx context.Context, body any) ([]byte, error)
}

// ResponsesResponder talks to the hosted /responses endpoint.
type ResponsesResponder struct {
	API ResponsesAPI
}

type responsesRequest struct {
	Model             string          `json:"model"`
	Instructions      string          `json:"instructions,omitempty"`
	Input             []responsesItem `json:"input"`
	Tools             []types.Tool    `json:"tools,omitempty"`
	ParallelToolCalls bool            `json:"parallel_tool_calls"`
}

type responsesItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content,omitempty"`
		CallID    string `json:"call_id,omitempty"`
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"output"`
}

func (r *ResponsesResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	if r == nil || r.API == nil {
		return nil, fmt.Errorf("responses api is not configured")
	}
	body := responsesRequest{
		Model:        req.Model,
		Instructions: req.Instructions,
		Input:        make([]responsesItem, 0, len(req.Input)),
		Tools:        req.Tools,
	}
	for _, it := range req.Input {
		wire := responsesItem{Type: it.Type}
		switch it.Type {
		case types.ItemTypeMessage:
			wire.Role = it.Role
			wire.Content = it.Text
		case types.ItemTypeFunctionCall:
			wire.CallID, wire.Name, wire.Arguments = it.CallID, it.Name, it.Arguments
		case types.ItemTypeFunctionCallOutput:
			wire.CallID, wire.Output = it.CallID, it.Output
		default:
			return nil, fmt.Errorf("unsupported supervisor item type %q", it.Type)
		}
		body.Input = append(body.Input, wire)
	}

	raw, err := r.API.CreateResponse(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseResponsesOutput(raw)
}

func parseResponsesOutput(raw []byte) (*Response, error) {
	var parsed responsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode responses output: %w", err)
	}
	out := &Response{Output: make([]Item, 0, len(parsed.Output))}
	for _, o := range parsed.Output {
		switch o.Type {
		case types.ItemTypeMessage:
			var b strings.Builder
			for _, c := range o.Content {
				if c.Type == types.ContentOutputText {
					b.WriteString(c.Text)
				}
			}
			out.Output = append(out.Output, Item{Type: types.ItemTypeMessage, Role: o.Role, Text: b.String()})
		case types.ItemTypeFunctionCall:
			out.Output = append(out.Output, Item{Type: types.ItemTypeFunctionCall, CallID: o.CallID, Name: o.Name, Arguments: o.Arguments})
		}
	}
	return out, nil
}
