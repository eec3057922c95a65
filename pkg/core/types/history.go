package types

import "strings"

// Item types carried in conversation history.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Content part types.
const (
	ContentInputText   = "input_text"
	ContentInputAudio  = "input_audio"
	ContentAudio       = "audio"
	ContentOutputAudio = "output_audio"
	ContentText        = "text"
	ContentOutputText  = "output_text"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageKind tags a message with who authored it. Corrective messages are
// injected by the session after a guardrail trip and are never shown as
// conversation.
type MessageKind string

const (
	KindUser             MessageKind = "USER"
	KindAssistant        MessageKind = "ASSISTANT"
	KindSystemCorrective MessageKind = "SYSTEM_CORRECTIVE"
)

// KindForRole maps a wire role to its default message kind.
func KindForRole(role string) MessageKind {
	if role == RoleAssistant {
		return KindAssistant
	}
	return KindUser
}

// ContentPart is one segment of a history item's content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// HistoryItem is a conversation item as exchanged with the realtime service.
type HistoryItem struct {
	ItemID  string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// function_call / function_call_output
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Text concatenates the text-bearing content parts of the item. Audio parts
// contribute their transcript.
func (h HistoryItem) Text() string {
	var b strings.Builder
	for _, part := range h.Content {
		switch part.Type {
		case ContentInputText, ContentText, ContentOutputText:
			b.WriteString(part.Text)
		case ContentAudio, ContentInputAudio, ContentOutputAudio:
			b.WriteString(part.Transcript)
		}
	}
	return b.String()
}

// IsMessage reports whether the item is a user or assistant message.
func (h HistoryItem) IsMessage() bool {
	return h.Type == ItemTypeMessage && (h.Role == RoleUser || h.Role == RoleAssistant)
}

// UserText builds a user message item carrying plain text.
func UserText(id, text string) HistoryItem {
	return HistoryItem{
		ItemID:  id,
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentInputText, Text: text}},
	}
}

// FunctionCallOutput builds the continuation item for a completed tool call.
func FunctionCallOutput(callID, output string) HistoryItem {
	return HistoryItem{
		Type:   ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: output,
	}
}
