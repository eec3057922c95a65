package types

import "encoding/json"

// Event is an inbound, typed event consumed by the session layer.
type Event interface {
	EventName() string
}

// Inbound pairs a typed event with the raw frame it was decoded from. Name and
// Payload are what the Event Log records; Event drives transcript semantics.
type Inbound struct {
	Name    string
	Payload json.RawMessage
	Event   Event
}

// HistoryAdded reports a new conversation item.
type HistoryAdded struct {
	Item HistoryItem `json:"item"`
}

func (HistoryAdded) EventName() string { return "history_added" }

// HistoryUpdated carries corrected versions of already-known items.
type HistoryUpdated struct {
	Items []HistoryItem `json:"items"`
}

func (HistoryUpdated) EventName() string { return "history_updated" }

// TranscriptionDelta is a streamed fragment of an item's transcript.
type TranscriptionDelta struct {
	ItemID string `json:"item_id"`
	Role   string `json:"role,omitempty"`
	Delta  string `json:"delta"`
}

func (TranscriptionDelta) EventName() string { return "transcription_delta" }

// TranscriptionCompleted carries the authoritative final transcript.
type TranscriptionCompleted struct {
	ItemID     string `json:"item_id"`
	Role       string `json:"role,omitempty"`
	Transcript string `json:"transcript"`
}

func (TranscriptionCompleted) EventName() string { return "transcription_completed" }

// FunctionCall is a completed tool call emitted by the model.
type FunctionCall struct {
	ItemID    string `json:"item_id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (FunctionCall) EventName() string { return "function_call" }

// ToolCallStart brackets the beginning of a local tool execution.
type ToolCallStart struct {
	Agent string       `json:"agent"`
	Call  FunctionCall `json:"function_call"`
}

func (ToolCallStart) EventName() string { return "agent_tool_start" }

// ToolCallEnd brackets the end of a local tool execution.
type ToolCallEnd struct {
	Agent  string       `json:"agent"`
	Call   FunctionCall `json:"function_call"`
	Result any          `json:"result"`
	Failed bool         `json:"failed,omitempty"`
}

func (ToolCallEnd) EventName() string { return "agent_tool_end" }

// AgentHandoff names the agent that takes over the session.
type AgentHandoff struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (AgentHandoff) EventName() string { return "agent_handoff" }

// GuardrailTripped reports an output classification other than NONE.
type GuardrailTripped struct {
	ItemID    string `json:"item_id"`
	Agent     string `json:"agent"`
	Category  string `json:"category"`
	Rationale string `json:"rationale"`
	TestText  string `json:"test_text"`
}

func (GuardrailTripped) EventName() string { return "guardrail_tripped" }

// TransportFailure is an error frame reported by the realtime service.
type TransportFailure struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (TransportFailure) EventName() string { return "error" }

// Opaque is any event without transcript semantics.
type Opaque struct {
	Name string `json:"name"`
	// Reason is set when a known frame failed validation and was kept only
	// for the event log.
	Reason string `json:"reason,omitempty"`
}

func (o Opaque) EventName() string { return o.Name }

// Synthetic wraps a session-generated event so it flows through the same
// dispatch path as transport events.
func Synthetic(ev Event) Inbound {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = nil
	}
	return Inbound{Name: ev.EventName(), Payload: payload, Event: ev}
}
