package timepolicy

import (
	"testing"
	"time"
)

func mustZone(t *testing.T) *Zone {
	t.Helper()
	z, err := NewZone("America/Toronto", RealClock{})
	if err != nil {
		t.Fatalf("NewZone: %v", err)
	}
	return z
}

func TestLocalDateTimeAtAcrossDST(t *testing.T) {
	z := mustZone(t)

	cases := []struct {
		name string
		date string
		hm   HourMinute
		want string // RFC3339 in America/Toronto offset
	}{
		{"before spring forward", "2026-03-07", HourMinute{7, 0}, "2026-03-07T07:00:00-05:00"},
		{"after spring forward", "2026-03-09", HourMinute{7, 0}, "2026-03-09T07:00:00-04:00"},
		{"before fall back", "2026-10-31", HourMinute{9, 0}, "2026-10-31T09:00:00-04:00"},
		{"after fall back", "2026-11-02", HourMinute{9, 0}, "2026-11-02T09:00:00-05:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := z.LocalDateTimeAt(tc.date, tc.hm)
			if err != nil {
				t.Fatalf("LocalDateTimeAt: %v", err)
			}
			want, err := time.Parse(time.RFC3339, tc.want)
			if err != nil {
				t.Fatalf("parse want: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestWeekStartMondayAnchored(t *testing.T) {
	z := mustZone(t)
	cases := []struct{ date, want string }{
		{"2026-07-27", "2026-07-27"}, // Monday
		{"2026-07-28", "2026-07-27"}, // Tuesday
		{"2026-08-02", "2026-07-27"}, // Sunday
		{"2026-08-03", "2026-08-03"}, // next Monday
	}
	for _, tc := range cases {
		got, err := z.WeekStart(tc.date)
		if err != nil {
			t.Fatalf("WeekStart(%s): %v", tc.date, err)
		}
		if got != tc.want {
			t.Errorf("WeekStart(%s) = %s, want %s", tc.date, got, tc.want)
		}
	}
}

func TestDayOfWeekSundayIsZero(t *testing.T) {
	z := mustZone(t)
	got, err := z.DayOfWeek("2026-08-02")
	if err != nil {
		t.Fatalf("DayOfWeek: %v", err)
	}
	if got != 0 {
		t.Errorf("DayOfWeek(Sunday) = %d, want 0", got)
	}
}

func TestAddDays(t *testing.T) {
	z := mustZone(t)
	got, err := z.AddDays("2026-07-29", -7)
	if err != nil {
		t.Fatalf("AddDays: %v", err)
	}
	if got != "2026-07-22" {
		t.Errorf("AddDays(-7) = %s, want 2026-07-22", got)
	}
}
