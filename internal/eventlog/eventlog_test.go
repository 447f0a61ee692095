package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"AccountPilot/internal/model"
	"AccountPilot/internal/recorder"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureRecorder) RecordEvent(e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}
func (c *captureRecorder) RecordAction(*model.ActionRecord) error { return nil }
func (c *captureRecorder) RecordRound(*recorder.RoundEvent) error { return nil }
func (c *captureRecorder) Close() error                           { return nil }

func TestRetentionKeepsMostRecent(t *testing.T) {
	l := New(3, nil)
	for i := 0; i < 5; i++ {
		l.Appendf("a", model.SeverityInfo, "event %d", i)
	}

	got := l.Entries()
	if len(got) != 3 || l.Len() != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("event %d", i+2)
		if e.Message != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, e.Message)
		}
	}
}

func TestTail(t *testing.T) {
	l := New(10, nil)
	for i := 0; i < 4; i++ {
		l.Appendf("", model.SeverityDebug, "e%d", i)
	}

	tail := l.Tail(2)
	if len(tail) != 2 || tail[0].Message != "e2" || tail[1].Message != "e3" {
		t.Errorf("unexpected tail %v", tail)
	}
	if len(l.Tail(100)) != 4 {
		t.Error("tail larger than log should return everything")
	}
	if l.Tail(0) != nil {
		t.Error("tail of zero should be empty")
	}
}

func TestAppendAssignsIDsAndPersists(t *testing.T) {
	rec := &captureRecorder{}
	l := New(10, nil)
	l.rec = rec
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	a := l.Append("acc", model.SeverityPartial, "purchase ok, spin failed")
	b := l.Append("acc", model.SeverityError, "errored")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if !a.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, a.Timestamp)
	}
	if len(rec.events) != 2 {
		t.Errorf("expected 2 persisted events, got %d", len(rec.events))
	}
}

func TestForAccountAndSubscribe(t *testing.T) {
	l := New(10, nil)
	var seen []model.Severity
	l.Subscribe(func(e model.Event) { seen = append(seen, e.Severity) })

	l.Append("a", model.SeverityInfo, "x")
	l.Append("b", model.SeverityWarn, "y")
	l.Append("a", model.SeverityError, "z")

	if got := l.ForAccount("a"); len(got) != 2 {
		t.Errorf("expected 2 events for a, got %d", len(got))
	}
	if len(seen) != 3 || seen[2] != model.SeverityError {
		t.Errorf("unexpected subscription calls %v", seen)
	}
	counts := l.CountSince(time.Time{})
	if counts[model.SeverityWarn] != 1 || counts[model.SeverityInfo] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New(50, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Append("acc", model.SeverityDebug, "tick")
			}
		}()
	}
	wg.Wait()
	if l.Len() != 50 {
		t.Errorf("expected full ring of 50, got %d", l.Len())
	}
}
