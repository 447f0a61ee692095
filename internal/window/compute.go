// Package window computes each account's daily execution window and arms the
// timed actions that live inside it: milestone claims, paced free actions and
// the rollover that re-plans the next day.
package window

import (
	"math/rand/v2"
	"time"

	"AccountPilot/internal/config"
	"AccountPilot/internal/model"
)

// Compute returns the effective window for now.
//
// Start is the configured start on now's calendar day shifted by a uniform
// draw in [-jitter, +jitter]. End is the configured end, pushed one day when
// it is not after Start. If that window has fully elapsed both ends move one
// day forward. When yesterday's window (midnight-spanning hours) still
// contains now, yesterday's window is returned instead.
func Compute(now time.Time, hours config.Hours, jitter time.Duration, rnd *rand.Rand) model.Window {
	offset := Draw(rnd, jitter)

	prev := build(now.AddDate(0, 0, -1), hours, offset)
	if prev.Contains(now) {
		prev.Jitter = offset
		return prev
	}

	w := build(now, hours, offset)
	if now.After(w.End) {
		w.Start = w.Start.AddDate(0, 0, 1)
		w.End = w.End.AddDate(0, 0, 1)
	}
	w.Jitter = offset
	return w
}

func build(day time.Time, hours config.Hours, offset time.Duration) model.Window {
	start := hours.Start.On(day).Add(offset)
	end := hours.End.On(day)
	for !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return model.Window{Start: start, End: end}
}

// Draw returns a uniform duration in [-j, +j]. A nil rnd uses the global source.
func Draw(rnd *rand.Rand, j time.Duration) time.Duration {
	if j <= 0 {
		return 0
	}
	span := int64(2*j) + 1
	if rnd == nil {
		return time.Duration(rand.Int64N(span)) - j
	}
	return time.Duration(rnd.Int64N(span)) - j
}

// Fire is one computed milestone time.
type Fire struct {
	Name string
	At   time.Time
}

// Milestones resolves milestone anchors against w. "previous" chains from the
// milestone before it (or Start for the first one).
func Milestones(w model.Window, ms []config.Milestone) []Fire {
	out := make([]Fire, 0, len(ms))
	prev := w.Start
	for _, m := range ms {
		var at time.Time
		switch m.Anchor {
		case "end":
			at = w.End.Add(m.Offset)
		case "previous":
			at = prev.Add(m.Offset)
		default:
			at = w.Start.Add(m.Offset)
		}
		out = append(out, Fire{Name: m.Name, At: at})
		prev = at
	}
	return out
}
