package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"AccountPilot/internal/model"
)

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	events := []model.Event{
		{ID: "e1", Timestamp: time.Now(), AccountID: "a1", Severity: model.SeverityInfo, Message: "round started"},
		{ID: "e2", Timestamp: time.Now(), AccountID: "a1", Severity: model.SeverityPartial, Message: "spin failed after purchase"},
		{ID: "e3", Timestamp: time.Now(), Severity: model.SeverityWarn, Message: "pool paused"},
	}
	for _, e := range events {
		if err := r.RecordEvent(e); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}
	if err := r.RecordAction(&model.ActionRecord{AccountID: "a1", Kind: "COMPOSITE", Success: true, Funds: 14000, Remaining: 14}); err != nil {
		t.Fatalf("record action: %v", err)
	}
	if err := r.RecordRound(&RoundEvent{AccountID: "a1", RunID: "run", Round: 1, Funds: 15000, Granted: 15, Outcome: "STARTED"}); err != nil {
		t.Fatalf("record round: %v", err)
	}

	if n, err := r.CountEvents(""); err != nil || n != 3 {
		t.Errorf("expected 3 events, got %d (%v)", n, err)
	}
	if n, err := r.CountEvents("a1"); err != nil || n != 2 {
		t.Errorf("expected 2 events for a1, got %d (%v)", n, err)
	}
}

func TestSQLiteRecorder_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	r, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RecordEvent(model.Event{ID: "x", Timestamp: time.Now(), Severity: model.SeverityInfo}); err != nil {
		t.Fatal(err)
	}
	r.Close()

	r, err = NewSQLiteRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n, _ := r.CountEvents(""); n != 1 {
		t.Errorf("expected 1 event after reopen, got %d", n)
	}
}
