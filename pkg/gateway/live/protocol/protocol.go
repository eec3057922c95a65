// Package protocol defines the JSON frames exchanged with browser clients on
// /v1/live.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

const ProtocolVersion1 = "1"

// Client frame types.
const (
	TypeHello      = "hello"
	TypeUserText   = "user_text"
	TypePTTStart   = "ptt_start"
	TypePTTStop    = "ptt_stop"
	TypePushToTalk = "push_to_talk"
	TypeAudio      = "audio"
	TypeInterrupt  = "interrupt"
	TypeEndSession = "end_session"
)

// Server frame types.
const (
	TypeHelloAck   = "hello_ack"
	TypeTranscript = "transcript"
	TypeEvent      = "event"
	TypeAgent      = "agent"
	TypeError      = "error"
	TypeWarning    = "warning"
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

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type HelloAuth struct {
	APIKey string `json:"api_key,omitempty"`
}

type ClientHello struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Scenario        string     `json:"scenario"`
	Agent           string     `json:"agent,omitempty"`
	PushToTalk      bool       `json:"push_to_talk,omitempty"`
	Greeting        *string    `json:"greeting,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type ClientUserText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientAudio struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
}

type ClientPushToTalk struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ClientControl covers the frames that carry nothing but their type.
type ClientControl struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeHello:
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		msg.Scenario = strings.TrimSpace(msg.Scenario)
		msg.Agent = strings.TrimSpace(msg.Agent)
		return msg, nil
	case TypeUserText:
		var msg ClientUserText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_text", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("user_text.text is required", "text")
		}
		return msg, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio", "")
		}
		if strings.TrimSpace(msg.AudioB64) == "" {
			return nil, badRequest("audio.audio_b64 is required", "audio_b64")
		}
		return msg, nil
	case TypePushToTalk:
		var msg ClientPushToTalk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid push_to_talk", "")
		}
		return msg, nil
	case TypePTTStart, TypePTTStop, TypeInterrupt, TypeEndSession:
		return ClientControl{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.Scenario) == "" {
		return badRequest("hello.scenario is required", "scenario")
	}
	return nil
}

type HelloAckLimits struct {
	MaxMessageBytes    int64 `json:"max_message_bytes"`
	MaxSessionSeconds  int   `json:"max_session_seconds"`
	ToolTimeoutSeconds int   `json:"tool_timeout_seconds"`
}

type ServerHelloAck struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Scenario        string         `json:"scenario"`
	Agent           string         `json:"agent"`
	Agents          []string       `json:"agents"`
	PushToTalk      bool           `json:"push_to_talk"`
	Limits          HelloAckLimits `json:"limits"`
}

type ServerTranscript struct {
	Type  string           `json:"type"`
	Entry transcript.Entry `json:"entry"`
}

type ServerEvent struct {
	Type  string         `json:"type"`
	Event eventlog.Event `json:"event"`
}

// ServerAudio carries assistant audio; it never enters the event log.
type ServerAudio struct {
	Type     string `json:"type"`
	ItemID   string `json:"item_id,omitempty"`
	AudioB64 string `json:"audio_b64"`
}

type ServerAgent struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type ServerError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Close   bool           `json:"close,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
