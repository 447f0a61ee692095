// Package timeline is the single scheduling loop behind every timed action.
//
// A Task runs once at its due time and returns the time it wants to run
// next (zero means done). The loop consumes that instruction and re-arms the
// task, so no callback ever reschedules itself directly. Tasks are keyed and
// grouped: scheduling an existing key replaces it, and a whole group (one
// account) is cancelled with a single call.
package timeline

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) (next time.Time, err error)

// TaskError is a task failure routed to the error hook.
type TaskError struct {
	Key   string
	Group string
	Err   error
	Panic any
}

func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.Key, e.Panic)
	}
	return fmt.Sprintf("task %s: %v", e.Key, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type entry struct {
	key   string
	group string
	at    time.Time
	task  Task
	index int // position in the heap, -1 while running
}

// Timeline owns all pending tasks.
type Timeline struct {
	mu      sync.Mutex
	entries map[string]*entry
	queue   entryHeap
	wake    chan struct{}
	onError func(*TaskError)
	wg      sync.WaitGroup
}

// New creates an empty Timeline. onError may be nil.
func New(onError func(*TaskError)) *Timeline {
	return &Timeline{
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		onError: onError,
	}
}

// Schedule arms task under key at the given time, replacing any task with
// the same key. A replaced task that is currently running finishes but is
// not re-armed.
func (t *Timeline) Schedule(key, group string, at time.Time, task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(key)
	e := &entry{key: key, group: group, at: at, task: task}
	t.entries[key] = e
	heap.Push(&t.queue, e)
	t.signal()
}

// Cancel drops the task under key.
func (t *Timeline) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

// CancelGroup drops every task of a group and returns how many were dropped.
func (t *Timeline) CancelGroup(group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key, e := range t.entries {
		if e.group == group {
			t.removeLocked(key)
			n++
		}
	}
	return n
}

// CancelAll drops every task.
func (t *Timeline) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		t.removeLocked(key)
	}
}

// Keys returns the sorted keys of a group's pending or running tasks.
func (t *Timeline) Keys(group string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []string
	for key, e := range t.entries {
		if e.group == group {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked tasks.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NextRun returns the due time of key, if it is waiting.
func (t *Timeline) NextRun(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.index < 0 {
		return time.Time{}, false
	}
	return e.at, true
}

// Run dispatches due tasks until ctx is cancelled, then waits for running
// tasks to return.
func (t *Timeline) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := t.dispatchDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			t.wg.Wait()
			return
		case <-t.wake:
		case <-timer.C:
		}
	}
}

// Wait blocks until every running task has returned.
func (t *Timeline) Wait() {
	t.wg.Wait()
}

// dispatchDue starts every due task and returns how long to sleep.
func (t *Timeline) dispatchDue(ctx context.Context) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for t.queue.Len() > 0 {
		e := t.queue[0]
		if e.at.After(now) {
			return e.at.Sub(now)
		}
		heap.Pop(&t.queue)
		t.wg.Add(1)
		go t.execute(ctx, e)
	}
	return time.Hour
}

func (t *Timeline) execute(ctx context.Context, e *entry) {
	defer t.wg.Done()

	next, err := t.invoke(ctx, e)
	if err != nil {
		t.report(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[e.key] != e {
		// cancelled or replaced while running
		return
	}
	if next.IsZero() || ctx.Err() != nil {
		delete(t.entries, e.key)
		return
	}
	e.at = next
	heap.Push(&t.queue, e)
	t.signal()
}

func (t *Timeline) invoke(ctx context.Context, e *entry) (next time.Time, taskErr *TaskError) {
	defer func() {
		if r := recover(); r != nil {
			next = time.Time{}
			taskErr = &TaskError{Key: e.key, Group: e.group, Panic: r}
		}
	}()
	next, err := e.task(ctx)
	if err != nil {
		return next, &TaskError{Key: e.key, Group: e.group, Err: err}
	}
	return next, nil
}

func (t *Timeline) report(err *TaskError) {
	if t.onError != nil {
		t.onError(err)
		return
	}
	log.Printf("[ERROR] %v", err)
}

func (t *Timeline) removeLocked(key string) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&t.queue, e.index)
	}
	delete(t.entries, key)
}

func (t *Timeline) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// entryHeap orders entries by due time.
type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
