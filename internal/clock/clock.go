// Package clock supplies the current time and calendar-day boundaries.
//
// Production code injects Real; tests inject a Fake with deterministic
// time control. Ticket sequences and "today" views are scoped to the day
// window returned by DayOf.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// StartOfDay returns local midnight of the calendar day containing t.
	StartOfDay(t time.Time) time.Time
}

// Real reads the system clock in a fixed location.
type Real struct {
	loc *time.Location
}

// NewReal returns a Real clock for loc. A nil loc means time.Local.
func NewReal(loc *time.Location) Real {
	if loc == nil {
		loc = time.Local
	}
	return Real{loc: loc}
}

func (r Real) Now() time.Time { return time.Now().In(r.loc) }

func (r Real) StartOfDay(t time.Time) time.Time { return midnight(t, r.loc) }

// Fake is a manually driven clock. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake frozen at now. Day boundaries use now's location.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) StartOfDay(t time.Time) time.Time {
	f.mu.Lock()
	loc := f.now.Location()
	f.mu.Unlock()
	return midnight(t, loc)
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar-day window of c containing t. End is the next
// local midnight, so DST days are 23 or 25 hours long.
func DayOf(c Clock, t time.Time) Window {
	start := c.StartOfDay(t)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// Today is DayOf(c, c.Now()).
func Today(c Clock) Window {
	return DayOf(c, c.Now())
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Key formats the window's day as YYYY-MM-DD.
func (w Window) Key() string {
	return w.Start.Format("2006-01-02")
}
