// Package pilot wires the schedulers together and exposes the control
// surface: start, pause, reset, state, forced refresh and forced funds check.
// Control operations return as soon as the work they trigger is armed.
package pilot

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"AccountPilot/internal/actions"
	"AccountPilot/internal/config"
	"AccountPilot/internal/credential"
	"AccountPilot/internal/eventlog"
	"AccountPilot/internal/metrics"
	"AccountPilot/internal/model"
	"AccountPilot/internal/notifier"
	"AccountPilot/internal/recorder"
	"AccountPilot/internal/registry"
	"AccountPilot/internal/remote"
	"AccountPilot/internal/retry"
	"AccountPilot/internal/roundrobin"
	"AccountPilot/internal/timeline"
	"AccountPilot/internal/window"
)

const (
	fundsGroup    = "funds"
	metricsKey    = "metrics/status"
	metricsGroup  = "metrics"
	metricsPeriod = 15 * time.Second
)

// Notifier delivers a message to the operator.
type Notifier interface {
	Deliver(ctx context.Context, m notifier.Message) error
}

// Options carries the collaborators of a Pilot. Nil fields get defaults:
// an HTTP client from the config, a noop recorder, no notifier, no metrics.
type Options struct {
	Client   remote.Client
	Creds    credential.Store
	Recorder recorder.Recorder
	Notifier Notifier
	Metrics  *metrics.Metrics
	Rand     *rand.Rand
}

// State is a point-in-time view for the control surface.
type State struct {
	RunID    string
	Paused   bool
	Queue    []string
	Pool     []string
	InFlight int
	Settings config.PoolSettings
	Accounts []*model.Account
	Counts   map[model.Status]int
	Timeline int
}

// Summary reduces the state to what a status report shows.
func (s State) Summary() notifier.Summary {
	return notifier.Summary{
		RunID:    s.RunID,
		Paused:   s.Paused,
		Queued:   len(s.Queue),
		Active:   len(s.Pool),
		InFlight: s.InFlight,
	}
}

// Pilot owns every component of a running engine.
type Pilot struct {
	cfg      *config.Config
	reg      *registry.Registry
	tl       *timeline.Timeline
	events   *eventlog.Log
	svc      *actions.Service
	pool     *roundrobin.Scheduler
	planner  *window.Planner
	rec      recorder.Recorder
	notifier Notifier
	metrics  *metrics.Metrics
	cron     *cron.Cron

	mu     sync.Mutex
	runID  string
	runCtx context.Context
	now    func() time.Time
}

// New builds a Pilot from a validated config and loads the accounts from the
// credential store.
func New(cfg *config.Config, opts Options) (*Pilot, error) {
	if opts.Creds == nil {
		opts.Creds = credential.NewFileStore(cfg.Credentials.File)
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.NewNoopRecorder()
	}
	if opts.Client == nil {
		opts.Client = remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Proxy, cfg.Remote.Timeout, cfg.Remote.Endpoints)
	}

	p := &Pilot{
		cfg:      cfg,
		reg:      registry.New(),
		events:   eventlog.New(cfg.Events.Retention, opts.Recorder),
		rec:      opts.Recorder,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		cron:     cron.New(cron.WithSeconds()),
		runCtx:   context.Background(),
		now:      time.Now,
	}
	p.tl = timeline.New(p.taskFailed)

	if err := p.loadAccounts(opts.Creds); err != nil {
		return nil, err
	}

	exec := remote.NewExecutor(opts.Client, p.reg)
	p.svc = actions.New(exec, p.reg, opts.Creds, p.events, p.rec, policyFrom(cfg.Retry))

	var poolRnd, planRnd *rand.Rand
	if opts.Rand != nil {
		poolRnd = rand.New(rand.NewPCG(opts.Rand.Uint64(), opts.Rand.Uint64()))
		planRnd = rand.New(rand.NewPCG(opts.Rand.Uint64(), opts.Rand.Uint64()))
	}
	p.pool = roundrobin.New(p.reg, p.tl, p.svc, p.events, cfg.Pool, poolRnd)
	p.planner = window.NewPlanner(p.reg, p.tl, cfg, p.svc, p.events, window.SettingsFrom(cfg), planRnd)

	p.pool.OnResult(p.onResult)
	p.events.Subscribe(p.onEvent)
	if p.metrics != nil {
		p.svc.Coordinator().OnAttempt(p.metrics.ObserveAttempt)
	}

	if err := p.registerJobs(); err != nil {
		return nil, err
	}
	log.Printf("[INFO] pilot ready: %d account(s), remote client %s", len(p.reg.IDs()), opts.Client.Name())
	return p, nil
}

func policyFrom(rs config.RetrySettings) retry.Policy {
	return retry.Policy{
		MaxRetries:       rs.MaxRetries,
		InitialDelay:     rs.InitialDelay,
		Multiplier:       rs.Multiplier,
		MaxDelay:         rs.MaxDelay,
		RateLimitDelay:   rs.RateLimitDelay,
		MaxAuthRefreshes: rs.MaxAuthRefreshes,
	}
}

func (p *Pilot) loadAccounts(store credential.Store) error {
	entries, err := store.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	for _, e := range entries {
		if err := p.reg.Add(e.ID, e.Name, e.RefreshToken, p.cfg.Enabled(e.ID)); err != nil {
			return fmt.Errorf("register account %s: %w", e.ID, err)
		}
	}
	for _, o := range p.cfg.Accounts {
		if _, err := p.reg.Get(o.ID); err != nil {
			log.Printf("[WARN] override for unknown account %s ignored", o.ID)
		}
	}
	return nil
}

// registerJobs adds the cron jobs: funds polling and the daily digest.
func (p *Pilot) registerJobs() error {
	if expr := p.cfg.Schedule.FundsPollCron; expr != "" {
		if _, err := p.cron.AddFunc(expr, p.pollFunds); err != nil {
			return fmt.Errorf("register funds poll: %w", err)
		}
	}
	if expr := p.cfg.Schedule.DigestCron; expr != "" {
		if _, err := p.cron.AddFunc(expr, p.sendDigest); err != nil {
			return fmt.Errorf("register digest: %w", err)
		}
	}
	return nil
}

// Run plans every account's day and drives the timeline until ctx is
// cancelled. It returns once running tasks and actions have finished.
func (p *Pilot) Run(ctx context.Context) error {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	if err := p.planner.PlanAll(p.now()); err != nil {
		log.Printf("[WARN] some windows could not be planned: %v", err)
	}
	p.armStatusGauge()

	p.cron.Start()
	log.Println("[INFO] pilot running")

	p.tl.Run(ctx)

	<-p.cron.Stop().Done()
	p.pool.Wait()
	log.Println("[INFO] pilot stopped")
	return nil
}

// Start begins a new run: every enabled account is queued (errored and
// completed ones included) and the cycle is armed.
func (p *Pilot) Start(override *config.PoolOverride) error {
	if err := p.pool.Snapshot().Settings.Merge(override).Validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	runID := uuid.NewString()
	err := p.pool.Start(p.reg.IDs(), override)

	p.mu.Lock()
	p.runID = runID
	p.mu.Unlock()

	snap := p.pool.Snapshot()
	p.events.Appendf("", model.SeverityInfo, "run %s started: %d queued, max_active %d, cycle %v",
		runID, len(snap.Queue), snap.Settings.MaxActive, snap.Settings.CycleDelay)
	if err != nil {
		p.events.Appendf("", model.SeverityWarn, "some accounts not queued: %v", err)
	}
	return nil
}

// Pause stops new cycles. Actions in flight finish.
func (p *Pilot) Pause() error {
	p.pool.Pause()
	p.events.Appendf("", model.SeverityInfo, "paused")
	return nil
}

// Reset pauses, drops every pending timer and all account progress, then
// plans the windows again from scratch.
func (p *Pilot) Reset() error {
	p.pool.Reset()
	p.tl.CancelAll()
	p.reg.Reset()

	p.mu.Lock()
	p.runID = ""
	p.mu.Unlock()

	err := p.planner.PlanAll(p.now())
	p.armStatusGauge()
	p.events.Appendf("", model.SeverityWarn, "reset: all accounts idle, windows replanned")
	return err
}

// State returns the current engine state.
func (p *Pilot) State() State {
	snap := p.pool.Snapshot()
	p.mu.Lock()
	runID := p.runID
	p.mu.Unlock()
	return State{
		RunID:    runID,
		Paused:   snap.Paused,
		Queue:    snap.Queue,
		Pool:     snap.Pool,
		InFlight: snap.InFlight,
		Settings: snap.Settings,
		Accounts: p.reg.List(),
		Counts:   p.reg.CountByStatus(),
		Timeline: p.tl.Len(),
	}
}

// Events returns the last n events.
func (p *Pilot) Events(n int) []model.Event {
	return p.events.Tail(n)
}

// Windows previews the effective window of every account without storing it.
func (p *Pilot) Windows(now time.Time) ([]*window.Plan, error) {
	var plans []*window.Plan
	for _, id := range p.reg.IDs() {
		plan, err := p.planner.Preview(id, now)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// ForceRefresh renews an account's session with a single attempt. An
// errored or completed account is queued again afterwards.
func (p *Pilot) ForceRefresh(id string) error {
	if _, err := p.reg.Get(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Remote.Timeout)
	defer cancel()
	if err := p.svc.RefreshSession(ctx, id); err != nil {
		p.events.Appendf(id, model.SeverityError, "forced refresh: %v", err)
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	p.reg.ResetFailures(id)
	p.events.Appendf(id, model.SeverityInfo, "session refreshed on request")

	st, err := p.reg.Status(id)
	if err != nil || !st.IsTerminal() {
		return err
	}
	if err := p.pool.Requeue(id); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	p.events.Appendf(id, model.SeverityInfo, "requeued after refresh")
	return nil
}

// ForceCheckFunds arms an immediate funds check for an account.
func (p *Pilot) ForceCheckFunds(id string) error {
	if _, err := p.reg.Get(id); err != nil {
		return err
	}
	p.scheduleFundsCheck(id, p.now())
	return nil
}

func fundsKey(id string) string { return fundsGroup + "/" + id }

func (p *Pilot) scheduleFundsCheck(id string, at time.Time) {
	p.tl.Schedule(fundsKey(id), fundsGroup, at, func(ctx context.Context) (time.Time, error) {
		funds, err := p.svc.FetchFunds(ctx, id)
		if err != nil {
			return time.Time{}, fmt.Errorf("funds check: %w", err)
		}
		p.events.Appendf(id, model.SeverityDebug, "funds %d", funds)
		return time.Time{}, nil
	})
}

// pollFunds arms a funds check for every active account inside its window.
func (p *Pilot) pollFunds() {
	now := p.now()
	n := 0
	for _, a := range p.reg.List() {
		if !a.IsActive() || a.Status == model.StatusActiveBusy {
			continue
		}
		in, err := p.planner.IsWithinWindow(a.ID, now)
		if err != nil {
			log.Printf("[WARN] window for %s: %v", a.ID, err)
			continue
		}
		if !in {
			continue
		}
		p.scheduleFundsCheck(a.ID, now)
		n++
	}
	if n > 0 {
		log.Printf("[INFO] funds poll: %d account(s) armed", n)
	}
}

func (p *Pilot) sendDigest() {
	now := p.now()
	msg := notifier.Digest(now, p.events.CountSince(now.Add(-24*time.Hour)), p.reg.CountByStatus())
	log.Println("[INFO] daily digest prepared")
	p.send(msg)
}

func (p *Pilot) armStatusGauge() {
	if p.metrics == nil {
		return
	}
	p.tl.Schedule(metricsKey, metricsGroup, p.now(), func(context.Context) (time.Time, error) {
		p.metrics.SetStatusCounts(p.reg.CountByStatus(), p.tl.Len())
		return p.now().Add(metricsPeriod), nil
	})
}

func (p *Pilot) onResult(r roundrobin.Result) {
	if p.metrics != nil {
		p.metrics.ObserveAction(r.Kind, r.Success, r.Partial)
	}
	if r.Kind != "ROUND" {
		return
	}

	p.mu.Lock()
	runID := p.runID
	p.mu.Unlock()

	evt := &recorder.RoundEvent{AccountID: r.AccountID, RunID: runID, Round: r.Round, Funds: r.Funds, Granted: r.Remaining}
	switch {
	case r.Err != nil:
		evt.Outcome = "ERRORED"
	case r.Remaining == 0:
		evt.Outcome = "COMPLETED"
		p.send(notifier.Alert(model.Event{
			AccountID: r.AccountID,
			Severity:  model.SeverityInfo,
			Message:   fmt.Sprintf("completed with funds %d", r.Funds),
		}))
	case r.Round > 1:
		evt.Outcome = "RENEWED"
	default:
		evt.Outcome = "STARTED"
	}
	if err := p.rec.RecordRound(evt); err != nil {
		log.Printf("[WARN] record round for %s: %v", r.AccountID, err)
	}
}

func (p *Pilot) onEvent(e model.Event) {
	if p.metrics != nil {
		p.metrics.ObserveEvent(e)
	}
	if e.AccountID != "" && (e.Severity == model.SeverityError || e.Severity == model.SeverityPartial) {
		p.send(notifier.Alert(e))
	}
}

// taskFailed routes timeline failures into the event log.
func (p *Pilot) taskFailed(e *timeline.TaskError) {
	p.events.Appendf(accountOf(e), model.SeverityError, "%v", e)
}

// accountOf extracts the account id from per-account task keys.
func accountOf(e *timeline.TaskError) string {
	switch {
	case strings.HasPrefix(e.Key, fundsGroup+"/"):
		return strings.TrimPrefix(e.Key, fundsGroup+"/")
	case strings.HasPrefix(e.Group, "window/"):
		return strings.TrimPrefix(e.Group, "window/")
	}
	return ""
}

// send delivers a message in the background. Pending retries stop when
// the run context ends.
func (p *Pilot) send(m notifier.Message) {
	if p.notifier == nil {
		return
	}
	p.mu.Lock()
	ctx := p.runCtx
	p.mu.Unlock()
	go func() {
		if err := p.notifier.Deliver(ctx, m); err != nil {
			log.Printf("[ERROR] %s notification: %v", m.Severity, err)
		}
	}()
}
