package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-agents/pkg/transcript"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	raw := []byte(`{
		"type":"hello",
		"protocol_version":"1",
		"scenario":" materialOrdering ",
		"agent":"orderSubmission",
		"push_to_talk":true,
		"greeting":"",
		"auth":{"api_key":"vai_sk_1"}
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientHello", msg)
	}
	if hello.Scenario != "materialOrdering" || hello.Agent != "orderSubmission" || !hello.PushToTalk {
		t.Fatalf("hello=%+v", hello)
	}
	if hello.Greeting == nil || *hello.Greeting != "" {
		t.Fatalf("explicit empty greeting not preserved: %v", hello.Greeting)
	}
	if hello.Auth == nil || hello.Auth.APIKey != "vai_sk_1" {
		t.Fatalf("auth=%+v", hello.Auth)
	}
}

func TestDecodeClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		param string
	}{
		{name: "not json", raw: `{`, param: ""},
		{name: "missing type", raw: `{}`, param: "type"},
		{name: "unknown type", raw: `{"type":"dance"}`, param: "type"},
		{name: "hello without version", raw: `{"type":"hello","scenario":"x"}`, param: "protocol_version"},
		{name: "hello without scenario", raw: `{"type":"hello","protocol_version":"1"}`, param: "scenario"},
		{name: "blank text", raw: `{"type":"user_text","text":"  "}`, param: "text"},
		{name: "empty audio", raw: `{"type":"audio"}`, param: "audio_b64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("err=%T %v, want *DecodeError", err, err)
			}
			if de.Code != "bad_request" || de.Param != tt.param {
				t.Fatalf("err=%+v, want param %q", de, tt.param)
			}
		})
	}
}

func TestDecodeClientMessage_ControlFrames(t *testing.T) {
	for _, typ := range []string{TypePTTStart, TypePTTStop, TypeInterrupt, TypeEndSession} {
		msg, err := DecodeClientMessage([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if c, ok := msg.(ClientControl); !ok || c.Type != typ {
			t.Fatalf("%s decoded to %#v", typ, msg)
		}
	}

	msg, err := DecodeClientMessage([]byte(`{"type":"push_to_talk","enabled":true}`))
	if err != nil {
		t.Fatalf("push_to_talk: %v", err)
	}
	if p, ok := msg.(ClientPushToTalk); !ok || !p.Enabled {
		t.Fatalf("push_to_talk decoded to %#v", msg)
	}
}

func TestServerTranscript_EncodesEntry(t *testing.T) {
	frame := ServerTranscript{Type: TypeTranscript, Entry: transcript.Entry{
		ID:        "item_1",
		Kind:      transcript.KindMessage,
		Role:      "assistant",
		Text:      "hello",
		Status:    transcript.StatusDone,
		CreatedAt: time.Unix(0, 0).UTC(),
	}}
	b, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"type":"transcript"`, `"id":"item_1"`, `"status":"DONE"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("frame %s missing %s", s, want)
		}
	}
}
