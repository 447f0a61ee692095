package model

import (
	"testing"
	"time"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusQueued, true},
		{StatusIdle, StatusActiveReady, false},
		{StatusQueued, StatusActiveReady, true},
		{StatusQueued, StatusActiveBusy, false},
		{StatusActiveReady, StatusActiveBusy, true},
		{StatusActiveBusy, StatusActiveReady, true},
		{StatusActiveBusy, StatusQueued, false},
		{StatusActiveBusy, StatusError, true},
		{StatusActiveBusy, StatusCompleted, true},
		{StatusError, StatusActiveReady, false},
		{StatusError, StatusQueued, true},
		{StatusCompleted, StatusActiveBusy, false},
		{StatusCompleted, StatusQueued, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestStatus_InPool(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusQueued, StatusError, StatusCompleted} {
		if s.InPool() {
			t.Errorf("%s should not be in pool", s)
		}
	}
	for _, s := range []Status{StatusActiveReady, StatusActiveBusy} {
		if !s.InPool() {
			t.Errorf("%s should be in pool", s)
		}
	}
}

func TestAccount_HasSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Account{}
	if a.HasSession(now) {
		t.Error("empty token should not count as session")
	}
	a.SessionToken = "s"
	if !a.HasSession(now) {
		t.Error("token without expiry should count as session")
	}
	a.SessionExpiresAt = now.Add(-time.Minute)
	if a.HasSession(now) {
		t.Error("expired token should not count as session")
	}
}

func TestAccount_CloneCopiesWindow(t *testing.T) {
	a := &Account{ID: "a", Window: &Window{Start: time.Unix(0, 0), End: time.Unix(60, 0)}}
	c := a.Clone()
	c.Window.End = time.Unix(120, 0)
	if a.Window.End.Unix() != 60 {
		t.Error("clone shares window with original")
	}
}
