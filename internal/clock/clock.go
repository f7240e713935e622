// Package clock exposes exchange-time, session, holiday and DTE
// computations (C10). All times are resolved against the exchange-local
// timezone, never UTC, so DTE calculations match the trading day the
// exchange itself observes.
package clock

import (
	"fmt"
	"time"
)

// Clock is the capability set every time-sensitive component depends on.
// A real implementation wraps time.Now(); tests substitute a Frozen clock.
type Clock interface {
	Now() time.Time
	IsPrimarySession() bool
	IsOpenToday() bool
	SessionCloseTime(date time.Time) time.Time
	DaysToExpiration(expiration time.Time) int
}

// Market is the default Clock, backed by the exchange's timezone and the
// holiday set supplied to NewMarket; no holiday calendar is built in, so with
// an empty set only weekends are closed. Trading start/end match the regular
// (non-extended) session unless ExtendedHours is set.
type Market struct {
	Location      *time.Location
	SessionStart  [2]int // hour, minute
	SessionEnd    [2]int
	Holidays      map[string]bool // "2006-01-02" -> true
	ExtendedHours bool

	// nowFn allows tests to pin Now() without constructing a separate type.
	nowFn func() time.Time
}

// NewMarket builds a Market clock for the given IANA timezone name, e.g.
// "America/New_York", with the regular 9:30-16:00 session and the supplied
// holiday set (dates in YYYY-MM-DD form).
func NewMarket(tz string, holidays []string) (*Market, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	hset := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hset[h] = true
	}
	return &Market{
		Location:     loc,
		SessionStart: [2]int{9, 30},
		SessionEnd:   [2]int{16, 0},
		Holidays:     hset,
		nowFn:        time.Now,
	}, nil
}

// Now returns the current time in the exchange's location.
func (m *Market) Now() time.Time {
	return m.nowFn().In(m.Location)
}

// IsOpenToday reports whether today is a trading day: not a weekend, not a
// configured holiday.
func (m *Market) IsOpenToday() bool {
	now := m.Now()
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	return !m.Holidays[now.Format("2006-01-02")]
}

// IsPrimarySession reports whether the current moment is inside the
// regular trading session (or, if ExtendedHours is set, always true on a
// trading day).
func (m *Market) IsPrimarySession() bool {
	if !m.IsOpenToday() {
		return false
	}
	if m.ExtendedHours {
		return true
	}
	now := m.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), m.SessionStart[0], m.SessionStart[1], 0, 0, m.Location)
	end := time.Date(now.Year(), now.Month(), now.Day(), m.SessionEnd[0], m.SessionEnd[1], 0, 0, m.Location)
	return !now.Before(start) && now.Before(end)
}

// SessionCloseTime returns the regular-session close time for the given
// exchange-local date.
func (m *Market) SessionCloseTime(date time.Time) time.Time {
	d := date.In(m.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), m.SessionEnd[0], m.SessionEnd[1], 0, 0, m.Location)
}

// DaysToExpiration computes DTE using exchange-local calendar dates, so a
// play created at 23:00 local the day before expiration reports DTE = 1
// (spec.md §8 boundary behavior), not a fractional day count.
func (m *Market) DaysToExpiration(expiration time.Time) int {
	now := m.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	exp := expiration.In(m.Location)
	expDay := time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
	return int(expDay.Sub(today).Hours() / 24)
}

// Frozen is a Clock that never advances, for deterministic tests.
type Frozen struct {
	At            time.Time
	PrimarySess   bool
	OpenToday     bool
	CloseAt       time.Time
}

func (f *Frozen) Now() time.Time                                 { return f.At }
func (f *Frozen) IsPrimarySession() bool                         { return f.PrimarySess }
func (f *Frozen) IsOpenToday() bool                               { return f.OpenToday }
func (f *Frozen) SessionCloseTime(date time.Time) time.Time       { return f.CloseAt }
func (f *Frozen) DaysToExpiration(expiration time.Time) int {
	today := time.Date(f.At.Year(), f.At.Month(), f.At.Day(), 0, 0, 0, 0, f.At.Location())
	exp := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, f.At.Location())
	return int(exp.Sub(today).Hours() / 24)
}
