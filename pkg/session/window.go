// Package session models the exchange trading session: its timezone, daily
// open/close and trading-day arithmetic.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // exchange timezone must resolve on minimal images
)

const DefaultTimezone = "Asia/Kolkata"

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("session: invalid clock %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("session: invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("session: invalid minute in %q", raw)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// Window is the daily trading window in the exchange location.
type Window struct {
	Open     Clock
	Close    Clock
	Location *time.Location
}

// DefaultWindow returns the NSE cash session 09:15 to 15:30 IST.
func DefaultWindow() Window {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return Window{Open: Clock{9, 15}, Close: Clock{15, 30}, Location: loc}
}

// NewWindow builds a window from "HH:MM" bounds and an IANA timezone name.
func NewWindow(open, close, tz string) (Window, error) {
	o, err := ParseClock(open)
	if err != nil {
		return Window{}, err
	}
	c, err := ParseClock(close)
	if err != nil {
		return Window{}, err
	}
	if c.minutes() <= o.minutes() {
		return Window{}, fmt.Errorf("session: close %s must be after open %s", c, o)
	}
	if strings.TrimSpace(tz) == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("session: load timezone %q: %w", tz, err)
	}
	return Window{Open: o, Close: c, Location: loc}, nil
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// Contains reports whether t falls inside [open, close] on its trading day.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.loc())
	m := local.Hour()*60 + local.Minute()
	if m < w.Open.minutes() || m > w.Close.minutes() {
		return false
	}
	if m == w.Close.minutes() && (local.Second() > 0 || local.Nanosecond() > 0) {
		return false
	}
	return true
}

// Day returns midnight of t's calendar day in the exchange location.
func (w Window) Day(t time.Time) time.Time {
	y, m, d := t.In(w.loc()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, w.loc())
}

// Bounds returns the session open and close instants for day.
func (w Window) Bounds(day time.Time) (time.Time, time.Time) {
	d := w.Day(day)
	open := d.Add(time.Duration(w.Open.minutes()) * time.Minute)
	close := d.Add(time.Duration(w.Close.minutes()) * time.Minute)
	return open, close
}

// DayRange returns [start of day, start of next day) for t.
func (w Window) DayRange(t time.Time) (time.Time, time.Time) {
	d := w.Day(t)
	return d, d.AddDate(0, 0, 1)
}

// PreviousTradingDays returns up to n weekdays strictly before day, most
// recent first. Exchange holidays are not modelled; callers skip days that
// return no data.
func (w Window) PreviousTradingDays(day time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := w.Day(day)
	for len(out) < n {
		d = d.AddDate(0, 0, -1)
		if IsWeekend(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s %s", w.Open, w.Close, w.loc())
}
