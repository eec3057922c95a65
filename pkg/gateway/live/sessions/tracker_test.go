package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	u1 := tr.Register("s1", Handle{Scenario: "simpleHandoff"})
	u2 := tr.Register("s2", Handle{Scenario: "simpleHandoff"})
	u3 := tr.Register("s3", Handle{Scenario: "materialOrdering"})
	if tr.Count() != 3 {
		t.Fatalf("count=%d, want 3", tr.Count())
	}
	if got := tr.ByScenario(); got["simpleHandoff"] != 2 || got["materialOrdering"] != 1 {
		t.Fatalf("ByScenario=%v", got)
	}

	u1()
	u1()
	u2()
	if ids := tr.IDs(); len(ids) != 1 || ids[0] != "s3" {
		t.Fatalf("IDs=%v, want [s3]", ids)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait returned true with a session still registered")
	}

	u3()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if !tr.Wait(ctx2) {
		t.Fatalf("Wait should succeed after all sessions unregister")
	}
}

func TestTracker_ReRegisterReleasesOldEntry(t *testing.T) {
	tr := NewTracker()
	oldUnregister := tr.Register("s1", Handle{})
	newUnregister := tr.Register("s1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	oldUnregister()
	if tr.Count() != 1 {
		t.Fatalf("stale unregister removed the new entry")
	}
	newUnregister()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("wait group leaked on re-register")
	}
}

func TestTracker_WarnAndCloseAll(t *testing.T) {
	tr := NewTracker()
	var warned, closed atomic.Int32
	for _, id := range []string{"a", "b"} {
		tr.Register(id, Handle{
			Close: func() { closed.Add(1) },
			Warn: func(code, message string) error {
				if code != "draining" {
					t.Errorf("code=%q", code)
				}
				warned.Add(1)
				return nil
			},
		})
	}
	tr.Register("bare", Handle{})

	if n := tr.WarnAll("draining", "gateway is shutting down"); n != 2 || warned.Load() != 2 {
		t.Fatalf("WarnAll sent=%d warned=%d", n, warned.Load())
	}
	if n := tr.CloseAll(); n != 2 || closed.Load() != 2 {
		t.Fatalf("CloseAll closed=%d calls=%d", n, closed.Load())
	}
}
