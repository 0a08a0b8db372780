package calendar

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOpen_SessionsInRange(t *testing.T) {
	cal := NewOpen(date(2017, 1, 1))

	sessions := cal.SessionsInRange(date(2017, 3, 1), date(2017, 3, 5))
	if len(sessions) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(sessions))
	}
	if !sessions[0].Equal(date(2017, 3, 1)) {
		t.Errorf("first session = %v", sessions[0])
	}
	if !sessions[4].Equal(date(2017, 3, 5)) {
		t.Errorf("last session = %v", sessions[4])
	}
}

func TestOpen_SessionsClippedToFirstSession(t *testing.T) {
	cal := NewOpen(date(2017, 1, 1))

	sessions := cal.SessionsInRange(date(2016, 12, 28), date(2017, 1, 2))
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if !sessions[0].Equal(date(2017, 1, 1)) {
		t.Errorf("first session = %v, want calendar first session", sessions[0])
	}
}

func TestOpen_MinutesInRange(t *testing.T) {
	cal := NewOpen(date(2017, 1, 1))

	start := time.Date(2017, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2017, 3, 1, 10, 4, 0, 0, time.UTC)

	minutes := cal.MinutesInRange(start, end)
	if len(minutes) != 5 {
		t.Fatalf("expected 5 minutes, got %d", len(minutes))
	}
	if !minutes[0].Equal(start) {
		t.Errorf("first minute = %v", minutes[0])
	}
	if !minutes[4].Equal(end) {
		t.Errorf("last minute = %v", minutes[4])
	}
}

func TestMonthBounds(t *testing.T) {
	tests := []struct {
		in        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{date(2017, 2, 15), date(2017, 2, 1), time.Date(2017, 2, 28, 23, 59, 0, 0, time.UTC)},
		{date(2016, 2, 10), date(2016, 2, 1), time.Date(2016, 2, 29, 23, 59, 0, 0, time.UTC)}, // leap year
		{date(2017, 12, 31), date(2017, 12, 1), time.Date(2017, 12, 31, 23, 59, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		start, end := MonthBounds(tt.in)
		if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
			t.Errorf("MonthBounds(%v) = (%v, %v), want (%v, %v)",
				tt.in, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestYearBounds(t *testing.T) {
	start, end := YearBounds(date(2017, 6, 15))
	if !start.Equal(date(2017, 1, 1)) {
		t.Errorf("year start = %v", start)
	}
	if !end.Equal(date(2017, 12, 31)) {
		t.Errorf("year end = %v", end)
	}
}

func TestLastMinuteOfDay(t *testing.T) {
	got := LastMinuteOfDay(time.Date(2017, 3, 1, 4, 20, 0, 0, time.UTC))
	want := time.Date(2017, 3, 1, 23, 59, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LastMinuteOfDay = %v, want %v", got, want)
	}
}
