package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-agents/pkg/core/types"
)

func TestDial_ExchangesFrames(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotModel := make(chan string, 1)
	received := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		gotModel <- r.URL.Query().Get("model")
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"item_1","delta":"hi"}`))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		_ = json.Unmarshal(data, &frame)
		received <- frame
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, DialConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model:  "gpt-realtime",
		APIKey: "sk-test",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	if auth := <-gotAuth; auth != "Bearer sk-test" {
		t.Fatalf("Authorization=%q", auth)
	}
	if model := <-gotModel; model != "gpt-realtime" {
		t.Fatalf("model=%q", model)
	}

	first := readInbound(t, conn)
	if _, ok := first.Event.(types.Opaque); !ok || first.Name != "session.created" {
		t.Fatalf("first=%+v", first)
	}
	second := readInbound(t, conn)
	if delta, ok := second.Event.(types.TranscriptionDelta); !ok || delta.Delta != "hi" {
		t.Fatalf("second=%+v", second)
	}

	if err := conn.Send(ctx, types.RequestResponse{}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	select {
	case frame := <-received:
		if frame["type"] != "response.create" {
			t.Fatalf("frame=%v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not receive frame")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := conn.Send(ctx, types.RequestResponse{}); err == nil {
		t.Fatalf("expected Send after Close to fail")
	}
}

func TestConn_DeliversMalformedTypedFrames(t *testing.T) {
	frames := []string{
		`{"type":"conversation.item.input_audio_transcription.delta","delta":"hi"}`,
		`{"type":"response.output_item.done","item":{"id":"fc1","type":"function_call","name":"lookup"}}`,
		`not json`,
		`{"type":"session.created","session":{}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, DialConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey: "sk-test",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	var names []string
	for i := 0; i < 3; i++ {
		in := readInbound(t, conn)
		if _, ok := in.Event.(types.Opaque); !ok {
			t.Fatalf("frame %d event=%T", i, in.Event)
		}
		names = append(names, in.Name)
	}
	want := "conversation.item.input_audio_transcription.delta,response.output_item.done,session.created"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("names=%s", got)
	}
}

func TestDial_RequiresAPIKey(t *testing.T) {
	if _, err := Dial(context.Background(), DialConfig{URL: "ws://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func readInbound(t *testing.T, conn *Conn) types.Inbound {
	t.Helper()
	select {
	case in, ok := <-conn.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return in
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return types.Inbound{}
}
