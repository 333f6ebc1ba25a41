// Package clock provides the time source and calendar arithmetic used by the plan engine.
package clock

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Useful in tests.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// DateWindow converts instants into calendar days of a single location.
// Every day comparison in the engine goes through civil dates so that a log
// written at 23:30 local time never lands on the following day.
type DateWindow struct {
	loc   *time.Location
	clock Clock
}

// NewDateWindow constructs a DateWindow. A nil location means UTC, a nil clock the system clock.
func NewDateWindow(loc *time.Location, c Clock) DateWindow {
	if loc == nil {
		loc = time.UTC
	}
	if c == nil {
		c = System{}
	}
	return DateWindow{loc: loc, clock: c}
}

// LoadDateWindow resolves an IANA timezone name, falling back to UTC when it is unknown.
func LoadDateWindow(name string, c Clock) (DateWindow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewDateWindow(time.UTC, c), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return NewDateWindow(time.UTC, c), err
	}
	return NewDateWindow(loc, c), nil
}

// Location returns the window's location.
func (w DateWindow) Location() *time.Location { return w.loc }

// Now returns the current instant from the underlying clock.
func (w DateWindow) Now() time.Time { return w.clock.Now() }

// Today is the current calendar day in the window's location.
func (w DateWindow) Today() civil.Date {
	return w.DateOf(w.clock.Now())
}

// DateOf converts an instant to the calendar day it falls on locally.
func (w DateWindow) DateOf(t time.Time) civil.Date {
	return civil.DateOf(t.In(w.loc))
}

// StartOf returns local midnight for the date.
func (w DateWindow) StartOf(d civil.Date) time.Time {
	return d.In(w.loc)
}
