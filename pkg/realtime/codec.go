package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-agents/pkg/core/types"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

type itemFrame struct {
	Item types.HistoryItem `json:"item"`
}

type transcriptFrame struct {
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

type errorFrame struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeServerEvent maps one realtime server frame to a typed event. Frames
// without transcript semantics decode to types.Opaque; the raw name and payload
// are always preserved. A typed frame that fails validation still decodes, as
// an Opaque carrying the reason, so it reaches the event log. Only frames that
// are not JSON or carry no type are rejected.
func DecodeServerEvent(data []byte) (types.Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return types.Inbound{}, badFrame("invalid json frame", "")
	}
	name := strings.TrimSpace(envelope.Type)
	if name == "" {
		return types.Inbound{}, badFrame("missing type", "type")
	}
	in := types.Inbound{Name: name, Payload: json.RawMessage(append([]byte(nil), data...))}
	ev, err := decodeEvent(name, data)
	if err != nil {
		ev = types.Opaque{Name: name, Reason: err.Error()}
	}
	in.Event = ev
	return in, nil
}

// decodeEvent validates a typed frame. Errors are *DecodeError.
func decodeEvent(name string, data []byte) (types.Event, error) {
	switch name {
	case "conversation.item.created", "conversation.item.added":
		var f itemFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid "+name, "item")
		}
		if strings.TrimSpace(f.Item.ItemID) == "" {
			return nil, badFrame(name+".item.id is required", "item.id")
		}
		return types.HistoryAdded{Item: f.Item}, nil
	case "conversation.item.retrieved", "conversation.item.done":
		var f itemFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid "+name, "item")
		}
		if strings.TrimSpace(f.Item.ItemID) == "" {
			return nil, badFrame(name+".item.id is required", "item.id")
		}
		return types.HistoryUpdated{Items: []types.HistoryItem{f.Item}}, nil
	case "conversation.item.input_audio_transcription.delta":
		f, err := decodeTranscript(name, data)
		if err != nil {
			return nil, err
		}
		return types.TranscriptionDelta{ItemID: f.ItemID, Role: types.RoleUser, Delta: f.Delta}, nil
	case "conversation.item.input_audio_transcription.completed":
		f, err := decodeTranscript(name, data)
		if err != nil {
			return nil, err
		}
		return types.TranscriptionCompleted{ItemID: f.ItemID, Role: types.RoleUser, Transcript: f.Transcript}, nil
	case "response.output_audio_transcript.delta", "response.audio_transcript.delta",
		"response.output_text.delta", "response.text.delta":
		f, err := decodeTranscript(name, data)
		if err != nil {
			return nil, err
		}
		return types.TranscriptionDelta{ItemID: f.ItemID, Role: types.RoleAssistant, Delta: f.Delta}, nil
	case "response.output_audio_transcript.done", "response.audio_transcript.done":
		f, err := decodeTranscript(name, data)
		if err != nil {
			return nil, err
		}
		return types.TranscriptionCompleted{ItemID: f.ItemID, Role: types.RoleAssistant, Transcript: f.Transcript}, nil
	case "response.output_text.done", "response.text.done":
		f, err := decodeTranscript(name, data)
		if err != nil {
			return nil, err
		}
		return types.TranscriptionCompleted{ItemID: f.ItemID, Role: types.RoleAssistant, Transcript: f.Text}, nil
	case "response.output_item.done":
		var f itemFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid "+name, "item")
		}
		if f.Item.Type != types.ItemTypeFunctionCall {
			return types.Opaque{Name: name}, nil
		}
		if strings.TrimSpace(f.Item.CallID) == "" || strings.TrimSpace(f.Item.Name) == "" {
			return nil, badFrame("function_call item requires call_id and name", "item")
		}
		return types.FunctionCall{
			ItemID:    f.Item.ItemID,
			CallID:    f.Item.CallID,
			Name:      f.Item.Name,
			Arguments: f.Item.Arguments,
		}, nil
	case "error":
		var f errorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid error frame", "error")
		}
		code := f.Error.Code
		if code == "" {
			code = f.Error.Type
		}
		return types.TransportFailure{Code: code, Message: f.Error.Message}, nil
	default:
		return types.Opaque{Name: name}, nil
	}
}

func decodeTranscript(name string, data []byte) (transcriptFrame, error) {
	var f transcriptFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return transcriptFrame{}, badFrame("invalid "+name, "")
	}
	if strings.TrimSpace(f.ItemID) == "" {
		return transcriptFrame{}, badFrame(name+".item_id is required", "item_id")
	}
	return f, nil
}

// EncodeCommand renders an outbound command as a realtime client frame.
func EncodeCommand(cmd types.Command) ([]byte, error) {
	frame, err := CommandPayload(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame)
}

// CommandPayload returns the client frame for cmd as a generic map, which is
// also what the Event Log records for outbound traffic.
func CommandPayload(cmd types.Command) (map[string]any, error) {
	if cmd == nil {
		return nil, fmt.Errorf("nil command")
	}
	frame := map[string]any{"type": cmd.CommandName()}
	switch c := cmd.(type) {
	case types.CreateConversationItem:
		frame["item"] = c.Item
	case types.RequestResponse, types.CancelResponse, types.ClearAudioBuffer, types.CommitAudioBuffer:
	case types.AppendAudio:
		if strings.TrimSpace(c.AudioB64) == "" {
			return nil, fmt.Errorf("input_audio_buffer.append requires audio")
		}
		frame["audio"] = c.AudioB64
	case types.UpdateSessionConfig:
		sess := map[string]any{
			"instructions": c.Instructions,
			"tools":        toolsOrEmpty(c.Tools),
		}
		if c.Voice != "" {
			sess["voice"] = c.Voice
		}
		if len(c.Modalities) > 0 {
			sess["modalities"] = c.Modalities
		}
		if c.TurnDetection != nil {
			sess["turn_detection"] = c.TurnDetection
		} else {
			sess["turn_detection"] = nil
		}
		frame["session"] = sess
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return frame, nil
}

func toolsOrEmpty(tools []types.Tool) []types.Tool {
	if tools == nil {
		return []types.Tool{}
	}
	return tools
}

type audioDeltaFrame struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

// AudioDelta extracts base64 assistant audio from an output audio delta frame.
func AudioDelta(in types.Inbound) (itemID, audioB64 string, ok bool) {
	switch in.Name {
	case "response.output_audio.delta", "response.audio.delta":
	default:
		return "", "", false
	}
	var f audioDeltaFrame
	if err := json.Unmarshal(in.Payload, &f); err != nil || f.Delta == "" {
		return "", "", false
	}
	return f.ItemID, f.Delta, true
}
