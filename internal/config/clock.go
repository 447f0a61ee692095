package config

import (
	"fmt"
	"time"
)

// Clock is a time of day as an offset from midnight.
type Clock time.Duration

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return Clock(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// On returns the clock time on the calendar day of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(c))
}

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Hours is the configured daily window of one account.
type Hours struct {
	Start Clock
	End   Clock
}

// Pacing is the free-action cadence of one account.
type Pacing struct {
	Interval time.Duration
	Jitter   time.Duration
}

// HoursFor resolves the window hours of an account, applying overrides.
func (c *Config) HoursFor(id string) (Hours, error) {
	start, end := c.Window.Start, c.Window.End
	if o, ok := c.Override(id); ok {
		if o.Start != "" {
			start = o.Start
		}
		if o.End != "" {
			end = o.End
		}
	}
	s, err := ParseClock(start)
	if err != nil {
		return Hours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Hours{}, err
	}
	return Hours{Start: s, End: e}, nil
}

// PacingFor resolves the pacing of an account, applying overrides.
func (c *Config) PacingFor(id string) Pacing {
	p := Pacing{Interval: c.Window.PacingInterval, Jitter: c.Window.PacingJitter}
	if o, ok := c.Override(id); ok {
		if o.PacingInterval > 0 {
			p.Interval = o.PacingInterval
		}
		if o.PacingJitter != nil {
			p.Jitter = *o.PacingJitter
		}
	}
	return p
}
