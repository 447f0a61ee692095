package window

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"AccountPilot/internal/config"
	"AccountPilot/internal/model"
	"AccountPilot/internal/registry"
	"AccountPilot/internal/timeline"
)

// ErrAccountInactive is recorded when a timed action fires for an account
// that is disabled, idle or errored.
var ErrAccountInactive = errors.New("account inactive")

// Schedule resolves per-account hours and pacing. *config.Config implements it.
type Schedule interface {
	HoursFor(id string) (config.Hours, error)
	PacingFor(id string) config.Pacing
}

// Actions performs the remote work triggered from inside the window.
type Actions interface {
	Milestone(ctx context.Context, accountID, name string) error
	FreeAction(ctx context.Context, accountID string) error
}

// EventSink receives the outcome of timed actions.
type EventSink interface {
	Appendf(accountID string, sev model.Severity, format string, args ...any) model.Event
}

// ActionError wraps a failed timed action.
type ActionError struct {
	AccountID string
	Action    string
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Action, e.AccountID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Settings are the process-wide window tunables.
type Settings struct {
	Jitter        time.Duration
	RolloverDelay time.Duration
	Milestones    []config.Milestone
	Location      *time.Location
}

// SettingsFrom extracts Settings from the loaded configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Jitter:        cfg.Window.Jitter,
		RolloverDelay: cfg.Window.RolloverDelay,
		Milestones:    cfg.Window.Milestones,
		Location:      cfg.Location(),
	}
}

// Plan is the computed day of one account.
type Plan struct {
	AccountID  string
	Window     model.Window
	Milestones []Fire
	Skipped    []Fire
	FirstPace  time.Time
	Rollover   time.Time
}

// Planner arms per-account daily plans on the shared timeline.
type Planner struct {
	reg      *registry.Registry
	tl       *timeline.Timeline
	sched    Schedule
	actions  Actions
	events   EventSink
	settings Settings

	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time
}

// NewPlanner creates a Planner. rnd may be nil to use a time-seeded source.
func NewPlanner(reg *registry.Registry, tl *timeline.Timeline, sched Schedule, actions Actions, events EventSink, settings Settings, rnd *rand.Rand) *Planner {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.RolloverDelay <= 0 {
		settings.RolloverDelay = time.Minute
	}
	return &Planner{
		reg:      reg,
		tl:       tl,
		sched:    sched,
		actions:  actions,
		events:   events,
		settings: settings,
		rnd:      rnd,
		now:      time.Now,
	}
}

// Group returns the timeline group holding an account's window timers.
func Group(id string) string { return "window/" + id }

func milestoneKey(id, name string) string { return Group(id) + "/milestone/" + name }
func pacingKey(id string) string          { return Group(id) + "/pacing" }
func rolloverKey(id string) string        { return Group(id) + "/rollover" }

// Plan clears the account's pending window timers, computes a fresh window
// and arms milestones, pacing and rollover. Calling it twice in a row leaves
// exactly one set of timers.
func (p *Planner) Plan(id string, now time.Time) (*Plan, error) {
	plan, err := p.Preview(id, now)
	if err != nil {
		return nil, err
	}

	p.tl.CancelGroup(Group(id))
	if err := p.reg.SetWindow(id, plan.Window); err != nil {
		return nil, err
	}

	for _, f := range plan.Milestones {
		p.tl.Schedule(milestoneKey(id, f.Name), Group(id), f.At, p.milestoneTask(id, f.Name))
	}
	if !plan.FirstPace.IsZero() {
		p.tl.Schedule(pacingKey(id), Group(id), plan.FirstPace, p.pacingTask(id))
	}
	p.tl.Schedule(rolloverKey(id), Group(id), plan.Rollover, p.rolloverTask(id))

	p.events.Appendf(id, model.SeverityInfo, "window %s - %s (jitter %v), %d milestone(s) armed, %d skipped",
		plan.Window.Start.Format(time.DateTime), plan.Window.End.Format(time.DateTime),
		plan.Window.Jitter, len(plan.Milestones), len(plan.Skipped))
	return plan, nil
}

// PlanAll plans every registered account and returns the first error.
func (p *Planner) PlanAll(now time.Time) error {
	var firstErr error
	for _, id := range p.reg.IDs() {
		if _, err := p.Plan(id, now); err != nil {
			p.events.Appendf(id, model.SeverityError, "plan window: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Preview computes a plan without arming or storing anything.
func (p *Planner) Preview(id string, now time.Time) (*Plan, error) {
	hours, err := p.sched.HoursFor(id)
	if err != nil {
		return nil, fmt.Errorf("hours for %s: %w", id, err)
	}
	now = now.In(p.settings.Location)

	p.rndMu.Lock()
	w := Compute(now, hours, p.settings.Jitter, p.rnd)
	p.rndMu.Unlock()

	plan := &Plan{AccountID: id, Window: w, Rollover: w.End.Add(p.settings.RolloverDelay)}
	for _, f := range Milestones(w, p.settings.Milestones) {
		if f.At.Before(now) {
			plan.Skipped = append(plan.Skipped, f)
			continue
		}
		plan.Milestones = append(plan.Milestones, f)
	}

	from := w.Start
	if now.After(from) {
		from = now
	}
	if first := from.Add(p.paceInterval(id)); w.Contains(first) {
		plan.FirstPace = first
	}
	return plan, nil
}

// Cancel drops every pending window timer of an account.
func (p *Planner) Cancel(id string) int {
	return p.tl.CancelGroup(Group(id))
}

// IsWithinWindow reports whether now lies in the account's window. The
// window is computed and stored on first query, or when the stored one has
// closed and no rollover is pending to replace it.
func (p *Planner) IsWithinWindow(id string, now time.Time) (bool, error) {
	w, ok := p.reg.Window(id)
	if ok && now.After(w.End) {
		if _, pending := p.tl.NextRun(rolloverKey(id)); pending {
			return false, nil
		}
	}
	if !ok || now.After(w.End) {
		plan, err := p.Preview(id, now)
		if err != nil {
			return false, err
		}
		w = plan.Window
		if err := p.reg.SetWindow(id, w); err != nil {
			return false, err
		}
	}
	return w.Contains(now), nil
}

func (p *Planner) paceInterval(id string) time.Duration {
	pacing := p.sched.PacingFor(id)
	p.rndMu.Lock()
	d := pacing.Interval + Draw(p.rnd, pacing.Jitter)
	p.rndMu.Unlock()
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

func (p *Planner) milestoneTask(id, name string) timeline.Task {
	return func(ctx context.Context) (time.Time, error) {
		p.fireMilestone(ctx, id, name)
		return time.Time{}, nil
	}
}

// fireMilestone runs one claim milestone. Failures end up in the event log.
func (p *Planner) fireMilestone(ctx context.Context, id, name string) {
	action := "milestone " + name
	if !p.active(id) {
		p.events.Appendf(id, model.SeverityDebug, "%s skipped: %v", action, ErrAccountInactive)
		return
	}
	if err := p.actions.Milestone(ctx, id, name); err != nil {
		p.fail(&ActionError{AccountID: id, Action: action, Err: err})
		return
	}
	p.events.Appendf(id, model.SeverityInfo, "%s done", action)
}

func (p *Planner) pacingTask(id string) timeline.Task {
	return func(ctx context.Context) (time.Time, error) {
		return p.firePacing(ctx, id), nil
	}
}

// firePacing runs one free action and returns the next pacing time, or zero
// once the next slot would fall outside the window.
func (p *Planner) firePacing(ctx context.Context, id string) time.Time {
	now := p.now()
	within, err := p.IsWithinWindow(id, now)
	switch {
	case err != nil:
		p.fail(&ActionError{AccountID: id, Action: "free action", Err: err})
		return time.Time{}
	case !within:
		return time.Time{}
	case !p.active(id):
		p.events.Appendf(id, model.SeverityDebug, "free action skipped: %v", ErrAccountInactive)
	default:
		if err := p.actions.FreeAction(ctx, id); err != nil {
			p.fail(&ActionError{AccountID: id, Action: "free action", Err: err})
		}
	}

	next := now.Add(p.paceInterval(id))
	if w, ok := p.reg.Window(id); !ok || !w.Contains(next) {
		return time.Time{}
	}
	return next
}

func (p *Planner) rolloverTask(id string) timeline.Task {
	return func(context.Context) (time.Time, error) {
		if _, err := p.Plan(id, p.now()); err != nil {
			p.fail(&ActionError{AccountID: id, Action: "rollover", Err: err})
		}
		// Plan re-armed the rollover key; this run must not.
		return time.Time{}, nil
	}
}

func (p *Planner) active(id string) bool {
	a, err := p.reg.Get(id)
	return err == nil && a.IsActive()
}

func (p *Planner) fail(err *ActionError) {
	p.events.Appendf(err.AccountID, model.SeverityError, "%v", err)
}
