// Package eventlog is the append-only observability sink. It keeps the most
// recent N entries in memory, mirrors each entry to the process log and
// optionally persists it through a recorder.
package eventlog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"AccountPilot/internal/model"
	"AccountPilot/internal/recorder"
)

// DefaultRetention is used when New is given a non-positive retention.
const DefaultRetention = 500

// Log is a bounded ring of events. Safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	buf       []model.Event
	next      int
	full      bool
	rec       recorder.Recorder
	listeners []func(model.Event)
	now       func() time.Time
}

// New creates a Log keeping the last retention entries. rec may be nil.
func New(retention int, rec recorder.Recorder) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{
		buf: make([]model.Event, retention),
		rec: rec,
		now: time.Now,
	}
}

// Subscribe registers fn to be called after every append. fn must not block.
func (l *Log) Subscribe(fn func(model.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append adds an event and returns it.
func (l *Log) Append(accountID string, sev model.Severity, msg string) model.Event {
	evt := model.Event{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		AccountID: accountID,
		Severity:  sev,
		Message:   msg,
	}

	l.mu.Lock()
	l.buf[l.next] = evt
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	listeners := l.listeners
	l.mu.Unlock()

	if accountID != "" {
		log.Printf("[%s] [%s] %s", sev, accountID, msg)
	} else {
		log.Printf("[%s] %s", sev, msg)
	}

	if l.rec != nil {
		if err := l.rec.RecordEvent(evt); err != nil {
			log.Printf("[WARN] record event: %v", err)
		}
	}
	for _, fn := range listeners {
		fn(evt)
	}
	return evt
}

// Appendf formats and adds an event.
func (l *Log) Appendf(accountID string, sev model.Severity, format string, args ...any) model.Event {
	return l.Append(accountID, sev, fmt.Sprintf(format, args...))
}

// Entries returns all retained events, oldest first.
func (l *Log) Entries() []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ordered()
}

// Tail returns the n most recent events, oldest first.
func (l *Log) Tail(n int) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.ordered()
	if n <= 0 {
		return nil
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:]
}

// ForAccount returns the retained events of one account, oldest first.
func (l *Log) ForAccount(id string) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Event
	for _, e := range l.ordered() {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// CountSince returns the number of retained events per severity at or after t.
func (l *Log) CountSince(t time.Time) map[model.Severity]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[model.Severity]int)
	for _, e := range l.ordered() {
		if !e.Timestamp.Before(t) {
			counts[e.Severity]++
		}
	}
	return counts
}

func (l *Log) ordered() []model.Event {
	if !l.full {
		out := make([]model.Event, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]model.Event, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}
