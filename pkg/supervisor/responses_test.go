package supervisor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/upstream"
)

func TestResponsesResponder_RoundTrip(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"output":[
			{"type":"reasoning","summary":[]},
			{"type":"function_call","call_id":"call_1","name":"findNearestStore","arguments":"{\"zip_code\":\"98101\"}"},
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Hello "},{"type":"output_text","text":"there"}]}
		]}`)
	}))
	defer srv.Close()

	r := &ResponsesResponder{API: upstream.New("sk", upstream.WithBaseURL(srv.URL))}
	resp, err := r.Respond(context.Background(), Request{
		Model:        "gpt-4.1",
		Instructions: "sys",
		Input: []Item{
			{Type: types.ItemTypeMessage, Role: types.RoleUser, Text: "hi"},
			{Type: types.ItemTypeFunctionCall, CallID: "c0", Name: "x", Arguments: "{}"},
			{Type: types.ItemTypeFunctionCallOutput, CallID: "c0", Output: `{"ok":true}`},
		},
		Tools: []types.Tool{types.FunctionTool("findNearestStore", "", nil)},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if got["model"] != "gpt-4.1" || got["instructions"] != "sys" || got["parallel_tool_calls"] != false {
		t.Fatalf("request=%v", got)
	}
	input := got["input"].([]any)
	if len(input) != 3 || input[0].(map[string]any)["content"] != "hi" || input[2].(map[string]any)["output"] != `{"ok":true}` {
		t.Fatalf("input=%v", input)
	}

	calls := resp.FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "findNearestStore" || calls[0].CallID != "call_1" {
		t.Fatalf("calls=%+v", calls)
	}
	if resp.Text() != "Hello there" {
		t.Fatalf("text=%q", resp.Text())
	}
}
