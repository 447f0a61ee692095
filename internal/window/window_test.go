package window

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"AccountPilot/internal/config"
	"AccountPilot/internal/model"
	"AccountPilot/internal/registry"
	"AccountPilot/internal/timeline"
)

func mustHours(t *testing.T, start, end string) config.Hours {
	t.Helper()
	s, err := config.ParseClock(start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := config.ParseClock(end)
	if err != nil {
		t.Fatal(err)
	}
	return config.Hours{Start: s, End: e}
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func at(day, hour, min int) time.Time {
	return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC)
}

func TestCompute_MidnightSpan(t *testing.T) {
	hours := mustHours(t, "09:00", "02:00")

	w := Compute(at(10, 8, 0), hours, 0, nil)
	if !w.Start.Equal(at(10, 9, 0)) || !w.End.Equal(at(11, 2, 0)) {
		t.Errorf("expected 09:00 -> next-day 02:00, got %v -> %v", w.Start, w.End)
	}

	// At 01:00 yesterday's window is still open.
	w = Compute(at(11, 1, 0), hours, 0, nil)
	if !w.Start.Equal(at(10, 9, 0)) || !w.End.Equal(at(11, 2, 0)) {
		t.Errorf("expected yesterday's window, got %v -> %v", w.Start, w.End)
	}

	// At 03:00 the previous window closed; today's opens at 09:00.
	w = Compute(at(11, 3, 0), hours, 0, nil)
	if !w.Start.Equal(at(11, 9, 0)) || !w.End.Equal(at(12, 2, 0)) {
		t.Errorf("expected today's window, got %v -> %v", w.Start, w.End)
	}
}

func TestCompute_ElapsedWindowMovesToTomorrow(t *testing.T) {
	hours := mustHours(t, "09:00", "17:00")
	w := Compute(at(10, 18, 0), hours, 0, nil)
	if !w.Start.Equal(at(11, 9, 0)) || !w.End.Equal(at(11, 17, 0)) {
		t.Errorf("expected tomorrow's window, got %v -> %v", w.Start, w.End)
	}
}

func TestCompute_EndAlwaysAfterStart(t *testing.T) {
	rnd := seeded(7)
	configs := [][2]string{{"09:00", "02:00"}, {"09:00", "23:00"}, {"00:10", "00:05"}, {"12:00", "12:00"}, {"23:50", "00:10"}}
	for _, c := range configs {
		hours := mustHours(t, c[0], c[1])
		for i := 0; i < 2000; i++ {
			now := at(10, 0, 0).Add(time.Duration(rnd.Int64N(int64(48 * time.Hour))))
			w := Compute(now, hours, 20*time.Minute, rnd)
			if !w.End.After(w.Start) {
				t.Fatalf("%v: end %v not after start %v (now %v)", c, w.End, w.Start, now)
			}
			if now.After(w.End) {
				t.Fatalf("%v: window %v -> %v already elapsed at %v", c, w.Start, w.End, now)
			}
		}
	}
}

func TestDraw_UniformAroundZero(t *testing.T) {
	const j = 20 * time.Minute
	const trials = 20000
	rnd := seeded(42)

	var sum float64
	var below, above int
	for i := 0; i < trials; i++ {
		d := Draw(rnd, j)
		if d < -j || d > j {
			t.Fatalf("draw %v outside [-%v, +%v]", d, j, j)
		}
		sum += float64(d)
		if d < 0 {
			below++
		} else if d > 0 {
			above++
		}
	}
	mean := time.Duration(sum / trials)
	if mean < -30*time.Second || mean > 30*time.Second {
		t.Errorf("mean %v too far from zero", mean)
	}
	if ratio := float64(below) / float64(above); ratio < 0.9 || ratio > 1.1 {
		t.Errorf("draws skewed: %d below, %d above", below, above)
	}
	if Draw(rnd, 0) != 0 {
		t.Error("zero jitter must not move the start")
	}
}

func TestMilestones_Anchors(t *testing.T) {
	w := model.Window{Start: at(10, 9, 0), End: at(10, 23, 0)}
	fires := Milestones(w, config.DefaultMilestones())

	want := []time.Time{at(10, 9, 5), at(10, 15, 5), at(10, 22, 30)}
	if len(fires) != len(want) {
		t.Fatalf("expected %d milestones, got %d", len(want), len(fires))
	}
	for i := range want {
		if !fires[i].At.Equal(want[i]) {
			t.Errorf("%s: expected %v, got %v", fires[i].Name, want[i], fires[i].At)
		}
	}
}

// --- planner ---

type fakeSchedule struct {
	hours  config.Hours
	pacing config.Pacing
}

func (f fakeSchedule) HoursFor(string) (config.Hours, error) { return f.hours, nil }
func (f fakeSchedule) PacingFor(string) config.Pacing        { return f.pacing }

type fakeActions struct {
	mu         sync.Mutex
	milestones []string
	free       int
	err        error
}

func (f *fakeActions) Milestone(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones = append(f.milestones, name)
	return f.err
}

func (f *fakeActions) FreeAction(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free++
	return f.err
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (f *fakeSink) Appendf(id string, sev model.Severity, format string, args ...any) model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := model.Event{AccountID: id, Severity: sev, Message: format}
	f.events = append(f.events, e)
	return e
}

func (f *fakeSink) count(sev model.Severity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

type fixture struct {
	reg     *registry.Registry
	tl      *timeline.Timeline
	actions *fakeActions
	sink    *fakeSink
	planner *Planner
}

func newFixture(t *testing.T, start, end string) *fixture {
	t.Helper()
	reg := registry.New()
	if err := reg.Add("acc", "Account", "refresh", true); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		reg:     reg,
		tl:      timeline.New(nil),
		actions: &fakeActions{},
		sink:    &fakeSink{},
	}
	sched := fakeSchedule{hours: mustHours(t, start, end), pacing: config.Pacing{Interval: time.Hour}}
	settings := Settings{RolloverDelay: time.Minute, Milestones: config.DefaultMilestones(), Location: time.UTC}
	f.planner = NewPlanner(reg, f.tl, sched, f.actions, f.sink, settings, seeded(1))
	return f
}

func TestPlan_TwiceDoesNotDuplicateTimers(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	now := at(10, 8, 0)

	if _, err := f.planner.Plan("acc", now); err != nil {
		t.Fatal(err)
	}
	first := f.tl.Keys(Group("acc"))
	if _, err := f.planner.Plan("acc", now); err != nil {
		t.Fatal(err)
	}
	second := f.tl.Keys(Group("acc"))

	// 3 milestones + pacing + rollover
	if len(first) != 5 || len(second) != 5 || f.tl.Len() != 5 {
		t.Errorf("expected 5 timers each time, got %v then %v", first, second)
	}
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("timer keys changed between plans: %v vs %v", first, second)
	}
}

func TestPlan_SkipsPassedMilestones(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	plan, err := f.planner.Plan("acc", at(10, 15, 0))
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Skipped) != 1 || plan.Skipped[0].Name != "morning-claim" {
		t.Errorf("expected morning-claim skipped, got %v", plan.Skipped)
	}
	if _, ok := f.tl.NextRun(milestoneKey("acc", "morning-claim")); ok {
		t.Error("passed milestone must not be armed")
	}
	next, ok := f.tl.NextRun(milestoneKey("acc", "afternoon-claim"))
	if !ok || !next.Equal(at(10, 15, 5)) {
		t.Errorf("expected afternoon-claim at 15:05, got %v", next)
	}
	roll, ok := f.tl.NextRun(rolloverKey("acc"))
	if !ok || !roll.Equal(at(10, 23, 1)) {
		t.Errorf("expected rollover at 23:01, got %v", roll)
	}
	if w, ok := f.reg.Window("acc"); !ok || !w.Start.Equal(at(10, 9, 0)) {
		t.Errorf("window not stored: %v", w)
	}
}

func TestIsWithinWindow_ComputesLazily(t *testing.T) {
	f := newFixture(t, "09:00", "02:00")
	if _, ok := f.reg.Window("acc"); ok {
		t.Fatal("fresh account must have no window")
	}

	in, err := f.planner.IsWithinWindow("acc", at(11, 1, 30))
	if err != nil || !in {
		t.Fatalf("expected 01:30 inside midnight-spanning window, got %v (%v)", in, err)
	}
	if _, ok := f.reg.Window("acc"); !ok {
		t.Error("window should be stored after first query")
	}

	in, _ = f.planner.IsWithinWindow("acc", at(11, 5, 0))
	if in {
		t.Error("05:00 is outside the window")
	}
	if f.tl.Len() != 0 {
		t.Error("a lazy query must not arm timers")
	}
}

func TestIsWithinWindow_ClosedWindowWaitsForRollover(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	if _, err := f.planner.Plan("acc", at(10, 8, 0)); err != nil {
		t.Fatal(err)
	}

	between := at(10, 23, 0).Add(30 * time.Second)
	in, err := f.planner.IsWithinWindow("acc", between)
	if err != nil || in {
		t.Fatalf("expected closed window, got %v (%v)", in, err)
	}
	if w, _ := f.reg.Window("acc"); !w.Start.Equal(at(10, 9, 0)) {
		t.Errorf("window must stay until the rollover fires, got start %v", w.Start)
	}

	f.planner.Cancel("acc")
	if _, err := f.planner.IsWithinWindow("acc", between); err != nil {
		t.Fatal(err)
	}
	if w, _ := f.reg.Window("acc"); !w.Start.Equal(at(11, 9, 0)) {
		t.Errorf("without a pending rollover the next window is computed, got start %v", w.Start)
	}
}

func TestFireMilestone_OnlyWhenActive(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	ctx := context.Background()

	f.planner.fireMilestone(ctx, "acc", "morning-claim")
	if len(f.actions.milestones) != 0 {
		t.Fatal("idle account must not claim")
	}

	if err := f.reg.Transition("acc", model.StatusQueued); err != nil {
		t.Fatal(err)
	}
	f.planner.fireMilestone(ctx, "acc", "morning-claim")
	if len(f.actions.milestones) != 1 {
		t.Errorf("active account should claim, got %v", f.actions.milestones)
	}
}

func TestFireMilestone_FailureIsLoggedNotPropagated(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	f.actions.err = errors.New("claim endpoint down")
	if err := f.reg.Transition("acc", model.StatusQueued); err != nil {
		t.Fatal(err)
	}

	f.planner.fireMilestone(context.Background(), "acc", "closing-claim")
	if f.sink.count(model.SeverityError) != 1 {
		t.Errorf("expected one error event, got %d", f.sink.count(model.SeverityError))
	}
}

func TestFirePacing_StopsOutsideWindow(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	if err := f.reg.Transition("acc", model.StatusQueued); err != nil {
		t.Fatal(err)
	}
	if _, err := f.planner.Plan("acc", at(10, 8, 0)); err != nil {
		t.Fatal(err)
	}

	f.planner.now = func() time.Time { return at(10, 12, 0) }
	next := f.planner.firePacing(context.Background(), "acc")
	if f.actions.free != 1 {
		t.Errorf("expected one free action, got %d", f.actions.free)
	}
	if !next.Equal(at(10, 13, 0)) {
		t.Errorf("expected next pacing at 13:00, got %v", next)
	}

	f.planner.now = func() time.Time { return at(10, 22, 30) }
	if next := f.planner.firePacing(context.Background(), "acc"); !next.IsZero() {
		t.Errorf("pacing past the window end must stop, got %v", next)
	}
}

func TestRollover_ReplansNextDay(t *testing.T) {
	f := newFixture(t, "09:00", "23:00")
	if _, err := f.planner.Plan("acc", at(10, 8, 0)); err != nil {
		t.Fatal(err)
	}

	f.planner.now = func() time.Time { return at(10, 23, 1) }
	next, err := f.planner.rolloverTask("acc")(context.Background())
	if err != nil || !next.IsZero() {
		t.Fatalf("rollover should return zero next, got %v (%v)", next, err)
	}

	w, _ := f.reg.Window("acc")
	if !w.Start.Equal(at(11, 9, 0)) {
		t.Errorf("expected next-day window, got %v", w.Start)
	}
	roll, ok := f.tl.NextRun(rolloverKey("acc"))
	if !ok || !roll.Equal(at(11, 23, 1)) {
		t.Errorf("expected re-armed rollover at next-day 23:01, got %v", roll)
	}
}
