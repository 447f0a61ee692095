// Package roundrobin cycles accounts from a waiting queue through a bounded
// active pool, running one composite action per cycle on a randomly chosen
// ready account.
//
// Lifecycle of an account as seen by the scheduler:
//
//	queued -> (round init) -> active-ready <-> active-busy -> completed | error
//
// Only the scheduler moves accounts between queue and pool, always under its
// own lock, so an account that left active-ready cannot be picked twice.
package roundrobin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"AccountPilot/internal/config"
	"AccountPilot/internal/model"
	"AccountPilot/internal/registry"
	"AccountPilot/internal/timeline"
)

const (
	// CycleKey is the timeline key of the cycle task.
	CycleKey = "roundrobin/cycle"
	// Group is the timeline group of the cycle task.
	Group = "roundrobin"
)

// ActionResult is what a successful composite action reports back.
type ActionResult struct {
	Funds       int64
	FundsKnown  bool
	PacksOpened int
}

// Actions performs the remote work of a round.
type Actions interface {
	FetchFunds(ctx context.Context, accountID string) (int64, error)
	Composite(ctx context.Context, accountID string) (ActionResult, error)
	EndOfRound(ctx context.Context, accountID string) (int64, error)
}

// EventSink receives scheduler events.
type EventSink interface {
	Appendf(accountID string, sev model.Severity, format string, args ...any) model.Event
}

// Result describes one finished composite action or round boundary. A
// successful ROUND result with no remaining actions means the account
// completed.
type Result struct {
	AccountID string
	Kind      string // "ROUND", "COMPOSITE"
	Success   bool
	Partial   bool
	Funds     int64
	Remaining int64
	Round     int
	Err       error
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Paused       bool
	Queue        []string
	Pool         []string
	Initializing int
	InFlight     int
	Settings     config.PoolSettings
}

// Scheduler is the round-robin activity scheduler.
type Scheduler struct {
	reg     *registry.Registry
	tl      *timeline.Timeline
	actions Actions
	events  EventSink

	mu           sync.Mutex
	settings     config.PoolSettings
	queue        []string
	pool         []string
	initializing int
	inFlight     int
	paused       bool
	gen          uint64
	rnd          *rand.Rand
	onResult     func(Result)

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a paused Scheduler. rnd may be nil.
func New(reg *registry.Registry, tl *timeline.Timeline, actions Actions, events EventSink, settings config.PoolSettings, rnd *rand.Rand) *Scheduler {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return &Scheduler{
		reg:      reg,
		tl:       tl,
		actions:  actions,
		events:   events,
		settings: settings,
		paused:   true,
		rnd:      rnd,
		now:      time.Now,
	}
}

// OnResult registers a hook called after every round init and composite action.
func (s *Scheduler) OnResult(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// Start queues the given accounts and arms the cycle. A non-nil override
// replaces the pool settings for this run (nil fields keep current values).
// Accounts already queued or pooled are left alone.
func (s *Scheduler) Start(ids []string, override *config.PoolOverride) error {
	s.mu.Lock()
	settings := s.settings.Merge(override)
	if err := settings.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = settings

	var errs []error
	for _, id := range ids {
		if err := s.enqueueLocked(id); err != nil && !errors.Is(err, ErrNotQueueable) {
			errs = append(errs, err)
		}
	}
	s.paused = false
	s.mu.Unlock()

	s.tl.Schedule(CycleKey, Group, s.now(), s.cycleTask)
	return errors.Join(errs...)
}

// Pause stops re-arming the cycle. In-flight actions finish normally.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.tl.Cancel(CycleKey)
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Reset drops queue and pool and pauses. Results of actions still in flight
// are discarded when they return.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.gen++
	s.paused = true
	s.queue = nil
	s.pool = nil
	s.initializing = 0
	s.inFlight = 0
	s.mu.Unlock()
	s.tl.Cancel(CycleKey)
}

// Requeue puts an idle, errored or completed account back in the queue.
func (s *Scheduler) Requeue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(id)
}

func (s *Scheduler) enqueueLocked(id string) error {
	if slices.Contains(s.queue, id) || slices.Contains(s.pool, id) {
		return fmt.Errorf("%w: %s already scheduled", ErrNotQueueable, id)
	}
	a, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if !a.Enabled {
		return fmt.Errorf("%w: %s disabled", ErrNotQueueable, id)
	}
	if a.Status != model.StatusQueued {
		if err := s.reg.Transition(id, model.StatusQueued); err != nil {
			return fmt.Errorf("%w: %v", ErrNotQueueable, err)
		}
	}
	s.queue = append(s.queue, id)
	return nil
}

// Snapshot returns the current scheduler state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Paused:       s.paused,
		Queue:        slices.Clone(s.queue),
		Pool:         slices.Clone(s.pool),
		Initializing: s.initializing,
		InFlight:     s.inFlight,
		Settings:     s.settings,
	}
}

// Wait blocks until every launched action has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) cycleTask(ctx context.Context) (time.Time, error) {
	s.Cycle(ctx)

	s.mu.Lock()
	paused := s.paused
	delay := s.settings.CycleDelay
	s.mu.Unlock()
	if paused {
		return time.Time{}, nil
	}
	next := s.now().Add(delay)
	s.markNext(next)
	return next, nil
}

// Cycle runs one scheduling step: backfill, pick a ready account, launch its
// composite action in the background, then check invariants.
func (s *Scheduler) Cycle(ctx context.Context) {
	if s.Paused() {
		return
	}
	s.backfill(ctx)

	id, gen, ok := s.pickReady()
	if ok {
		s.wg.Add(1)
		go s.runAction(ctx, id, gen)
	}

	if err := s.CheckInvariants(); err != nil {
		s.events.Appendf("", model.SeverityError, "%v", err)
	}
}

// pickReady selects a random active-ready account with actions left and
// marks it busy.
func (s *Scheduler) pickReady() (string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for _, id := range s.pool {
		a, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		if a.Status == model.StatusActiveReady && a.RemainingActions > 0 {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		return "", 0, false
	}

	id := ready[s.rnd.IntN(len(ready))]
	if err := s.reg.Transition(id, model.StatusActiveBusy); err != nil {
		s.events.Appendf(id, model.SeverityError, "pick: %v", err)
		return "", 0, false
	}
	s.inFlight++
	return id, s.gen, true
}

// backfill moves queued accounts into the pool until it is full or the
// queue is empty. Round init runs outside the lock; a reserved slot keeps
// concurrent backfills within capacity.
func (s *Scheduler) backfill(ctx context.Context) {
	for ctx.Err() == nil {
		s.mu.Lock()
		if len(s.pool)+s.initializing >= s.settings.MaxActive || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		s.initializing++
		gen := s.gen
		settings := s.settings
		s.mu.Unlock()

		ok := s.initRound(ctx, id, gen, settings)

		s.mu.Lock()
		if s.gen == gen {
			s.initializing--
			if ok {
				s.pool = append(s.pool, id)
			}
		}
		s.mu.Unlock()
	}
}

// initRound fetches funds and sizes the first round. It returns true when
// the account entered active-ready.
func (s *Scheduler) initRound(ctx context.Context, id string, gen uint64, settings config.PoolSettings) bool {
	funds, err := s.actions.FetchFunds(ctx, id)
	if s.stale(gen) {
		return false
	}
	if err != nil && ctx.Err() != nil {
		s.requeueFront(id, gen)
		return false
	}
	if err != nil {
		s.fail(id, fmt.Errorf("round init: %w", err))
		s.emit(Result{AccountID: id, Kind: "ROUND", Err: err})
		return false
	}

	granted := funds / settings.UnitCost
	if funds < settings.FundsThreshold || granted == 0 {
		s.complete(id, funds, settings)
		s.emit(Result{AccountID: id, Kind: "ROUND", Success: true, Funds: funds})
		return false
	}

	if err := s.reg.StartRound(id, granted); err != nil {
		s.fail(id, err)
		return false
	}
	if err := s.reg.Transition(id, model.StatusActiveReady); err != nil {
		s.fail(id, err)
		return false
	}
	a, _ := s.reg.Get(id)
	s.events.Appendf(id, model.SeverityInfo, "round %d started: funds %d, %d action(s)", a.Round, funds, granted)
	s.emit(Result{AccountID: id, Kind: "ROUND", Success: true, Funds: funds, Remaining: granted, Round: a.Round})
	return true
}

// runAction executes one composite action for a busy account and applies
// the result.
func (s *Scheduler) runAction(ctx context.Context, id string, gen uint64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.inFlight--
		}
		s.mu.Unlock()
	}()

	res, err := s.actions.Composite(ctx, id)
	if s.stale(gen) {
		return
	}

	if err != nil && ctx.Err() != nil {
		s.release(id, err)
		return
	}
	if err != nil {
		partial := errors.Is(err, ErrPartialSuccess)
		if partial {
			s.events.Appendf(id, model.SeverityPartial, "composite action: %v (no compensation)", err)
		}
		s.emit(Result{AccountID: id, Kind: "COMPOSITE", Partial: partial, Err: err})
		s.evict(ctx, id, err)
		return
	}

	if res.FundsKnown {
		s.reg.SetFunds(id, res.Funds)
	}
	if res.PacksOpened > 0 {
		s.reg.AddPacksOpened(id, int64(res.PacksOpened))
	}
	remaining, err := s.reg.RecordAction(id)
	if err != nil {
		s.evict(ctx, id, err)
		return
	}
	s.emit(Result{AccountID: id, Kind: "COMPOSITE", Success: true, Funds: res.Funds, Remaining: remaining})

	if remaining > 0 {
		if err := s.reg.Transition(id, model.StatusActiveReady); err != nil {
			s.evict(ctx, id, err)
		}
		return
	}

	s.endRound(ctx, id, gen)
}

// endRound runs the end-of-round hook and either starts the next round or
// completes the account.
func (s *Scheduler) endRound(ctx context.Context, id string, gen uint64) {
	funds, err := s.actions.EndOfRound(ctx, id)
	if s.stale(gen) {
		return
	}
	if err != nil && ctx.Err() != nil {
		s.release(id, err)
		return
	}
	if err != nil {
		s.evict(ctx, id, fmt.Errorf("end of round: %w", err))
		return
	}

	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()

	granted := funds / settings.UnitCost
	if funds < settings.FundsThreshold || granted == 0 {
		s.removeFromPool(id)
		s.complete(id, funds, settings)
		s.emit(Result{AccountID: id, Kind: "ROUND", Success: true, Funds: funds})
		s.backfill(ctx)
		return
	}

	if err := s.reg.StartRound(id, granted); err != nil {
		s.evict(ctx, id, err)
		return
	}
	if err := s.reg.Transition(id, model.StatusActiveReady); err != nil {
		s.evict(ctx, id, err)
		return
	}
	a, _ := s.reg.Get(id)
	s.events.Appendf(id, model.SeverityInfo, "round %d started: funds %d, %d action(s)", a.Round, funds, granted)
	s.emit(Result{AccountID: id, Kind: "ROUND", Success: true, Funds: funds, Remaining: granted, Round: a.Round})
}

func (s *Scheduler) complete(id string, funds int64, settings config.PoolSettings) {
	if err := s.reg.Transition(id, model.StatusCompleted); err != nil {
		s.events.Appendf(id, model.SeverityError, "complete: %v", err)
		return
	}
	s.events.Appendf(id, model.SeverityInfo, "completed: funds %d below threshold %d", funds, settings.FundsThreshold)
}

// evict marks an account errored, removes it from the pool and refills the
// freed slot.
func (s *Scheduler) evict(ctx context.Context, id string, cause error) {
	s.removeFromPool(id)
	s.fail(id, cause)
	s.backfill(ctx)
}

// release hands a busy account back to active-ready after shutdown cut its
// action short. It stays pooled and is not marked errored.
func (s *Scheduler) release(id string, cause error) {
	if err := s.reg.Transition(id, model.StatusActiveReady); err != nil {
		s.events.Appendf(id, model.SeverityError, "release: %v (cause: %v)", err, cause)
		return
	}
	s.events.Appendf(id, model.SeverityWarn, "action interrupted by shutdown: %v", cause)
}

// requeueFront puts an account whose round init was interrupted back at the
// head of the queue.
func (s *Scheduler) requeueFront(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.queue = slices.Insert(s.queue, 0, id)
}

func (s *Scheduler) fail(id string, cause error) {
	if err := s.reg.MarkErrored(id, cause); err != nil {
		s.events.Appendf(id, model.SeverityError, "mark errored: %v (cause: %v)", err, cause)
		return
	}
	s.events.Appendf(id, model.SeverityError, "errored: %v", cause)
}

func (s *Scheduler) removeFromPool(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = slices.DeleteFunc(s.pool, func(p string) bool { return p == id })
}

func (s *Scheduler) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

func (s *Scheduler) emit(r Result) {
	s.mu.Lock()
	fn := s.onResult
	s.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (s *Scheduler) markNext(at time.Time) {
	s.mu.Lock()
	pool := slices.Clone(s.pool)
	s.mu.Unlock()
	for _, id := range pool {
		s.reg.SetNextAction(id, at)
	}
}

// CheckInvariants verifies the queue/pool discipline and returns every
// violation joined into one error.
func (s *Scheduler) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if len(s.pool) > s.settings.MaxActive {
		errs = append(errs, fmt.Errorf("%w: pool size %d exceeds max_active %d", ErrInvariant, len(s.pool), s.settings.MaxActive))
	}
	seen := make(map[string]bool, len(s.queue))
	for _, id := range s.queue {
		if seen[id] {
			errs = append(errs, fmt.Errorf("%w: %s queued twice", ErrInvariant, id))
		}
		seen[id] = true
		if st, err := s.reg.Status(id); err == nil && st != model.StatusQueued {
			errs = append(errs, fmt.Errorf("%w: %s in queue with status %s", ErrInvariant, id, st))
		}
	}
	for _, id := range s.pool {
		if seen[id] {
			errs = append(errs, fmt.Errorf("%w: %s in both queue and pool", ErrInvariant, id))
		}
		a, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		if !a.Status.InPool() {
			errs = append(errs, fmt.Errorf("%w: %s in pool with status %s", ErrInvariant, id, a.Status))
		}
		if a.Round == 0 {
			errs = append(errs, fmt.Errorf("%w: %s in pool without an initialised round", ErrInvariant, id))
		}
	}
	return errors.Join(errs...)
}
