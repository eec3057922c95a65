package eventlog

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLite_PersistsEventsInOrder(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer sink.Close()

	l := New(Options{SessionID: "sess_sql", Sinks: []Sink{sink}, Logger: discardLogger()})
	l.Record(DirectionServer, "session.created", nil)
	l.Record(DirectionClient, "response.create", map[string]any{"type": "response.create"})
	l.Record(DirectionServer, "response.done", map[string]any{"type": "response.done"})

	events, err := sink.SessionEvents(ctx, "sess_sql")
	if err != nil {
		t.Fatalf("SessionEvents error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len=%d, want 3", len(events))
	}
	if events[1].Name != "response.create" || events[1].Direction != DirectionClient {
		t.Fatalf("events[1]=%+v", events[1])
	}
	if string(events[2].Payload) != `{"type":"response.done"}` {
		t.Fatalf("payload=%s", events[2].Payload)
	}

	other, err := sink.SessionEvents(ctx, "other")
	if err != nil || len(other) != 0 {
		t.Fatalf("other session=%v err=%v", other, err)
	}
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	first, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()

	second, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = second.Close()
}
