// Package common provides small helpers shared by the commands.
package common

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Lap is one timed stage.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Timer measures consecutive stages of a command, such as load, segment and
// write. It is not safe for concurrent use.
type Timer struct {
	name  string
	start time.Time
	last  time.Time
	laps  []Lap
	now   func() time.Time
}

// NewNamedTimer starts a timer.
func NewNamedTimer(name string) *Timer {
	return newTimer(name, time.Now)
}

func newTimer(name string, now func() time.Time) *Timer {
	t := now()
	return &Timer{name: name, start: t, last: t, now: now}
}

// Lap records the time since the previous lap (or the start) under name.
func (t *Timer) Lap(name string) time.Duration {
	n := t.now()
	d := n.Sub(t.last)
	t.last = n
	t.laps = append(t.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the recorded stages in order.
func (t *Timer) Laps() []Lap { return append([]Lap(nil), t.laps...) }

// Total is the time since the timer started.
func (t *Timer) Total() time.Duration { return t.last.Sub(t.start) }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// LogValue groups the laps and the total for slog.
func (t *Timer) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(t.laps)+1)
	for _, l := range t.laps {
		attrs = append(attrs, slog.Duration(l.Name, l.Duration))
	}
	attrs = append(attrs, slog.Duration("total", t.Total()))
	return slog.GroupValue(attrs...)
}

func (t *Timer) String() string {
	var b strings.Builder
	if t.name != "" {
		b.WriteString(t.name)
		b.WriteString(": ")
	}
	for _, l := range t.laps {
		fmt.Fprintf(&b, "%s=%v ", l.Name, l.Duration)
	}
	fmt.Fprintf(&b, "total=%v", t.Total())
	return b.String()
}
