// Package calendar provides trading-calendar enumeration and the period
// arithmetic used to align ingestion chunks to calendar months and years.
package calendar

import "time"

// Calendar enumerates valid trading sessions and minutes for a venue.
type Calendar interface {
	// FirstSession returns the first session the calendar supports.
	FirstSession() time.Time

	// SessionsInRange returns every session label (midnight UTC) between
	// start and end, inclusive.
	SessionsInRange(start, end time.Time) []time.Time

	// MinutesInRange returns every trading minute between start and end,
	// inclusive.
	MinutesInRange(start, end time.Time) []time.Time
}

// Open is a 24/7 calendar: every day is a session and every minute of every
// day trades. Crypto venues use it.
type Open struct {
	first time.Time
}

// NewOpen creates an always-open calendar whose first session is the given
// instant, truncated to midnight UTC.
func NewOpen(first time.Time) *Open {
	return &Open{first: DayStart(first)}
}

// FirstSession returns the first supported session.
func (c *Open) FirstSession() time.Time { return c.first }

// SessionsInRange returns one session per day from start's date through
// end's date, never earlier than the first session.
func (c *Open) SessionsInRange(start, end time.Time) []time.Time {
	day := DayStart(start)
	if day.Before(c.first) {
		day = c.first
	}
	var sessions []time.Time
	for !day.After(end) {
		sessions = append(sessions, day)
		day = day.AddDate(0, 0, 1)
	}
	return sessions
}

// MinutesInRange returns every minute from start (rounded up to a whole
// minute) through end, inclusive.
func (c *Open) MinutesInRange(start, end time.Time) []time.Time {
	dt := start.UTC().Truncate(time.Minute)
	if dt.Before(start) {
		dt = dt.Add(time.Minute)
	}
	var minutes []time.Time
	for !dt.After(end) {
		minutes = append(minutes, dt)
		dt = dt.Add(time.Minute)
	}
	return minutes
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns the first instant of t's month and the last minute of
// its last day (23:59). Minute-frequency chunks span these bounds.
func MonthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Minute)
	return start, end
}

// YearBounds returns January 1st and December 31st (midnight) of t's year.
// Daily-frequency chunks span these bounds.
func YearBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(t.Year(), 12, 31, 0, 0, 0, 0, time.UTC)
	return start, end
}

// LastMinuteOfDay returns t's date at 23:59 UTC. Some venues do not trade
// exactly at midnight, so coverage probes for minute data use this instead
// of the day's first minute.
func LastMinuteOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, time.UTC)
}
