// README: Tenant wall-clock zone service. All user-visible deadlines are
// computed here; callers never compare a UTC instant to a partial
// wall-clock time without going through localDateTimeAt.
package timepolicy

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// HourMinute is a wall-clock time of day, e.g. route start time or a
// policy deadline hour, with no date or zone attached.
type HourMinute struct {
	Hour   int
	Minute int
}

func (hm HourMinute) String() string {
	return fmt.Sprintf("%02d:%02d", hm.Hour, hm.Minute)
}

// ParseHourMinute parses "HH:MM".
func ParseHourMinute(s string) (HourMinute, error) {
	var hm HourMinute
	if _, err := fmt.Sscanf(s, "%d:%d", &hm.Hour, &hm.Minute); err != nil {
		return HourMinute{}, fmt.Errorf("parse hour:minute %q: %w", s, err)
	}
	return hm, nil
}

// Zone carries the single tenant-local wall-clock timezone (e.g.
// America/Toronto) used for every scheduling and deadline computation.
type Zone struct {
	loc   *time.Location
	clock Clock
}

// NewZone loads the named IANA zone (e.g. "America/Toronto") and binds it
// to the given clock.
func NewZone(name string, clock Clock) (*Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return &Zone{loc: loc, clock: clock}, nil
}

// NowLocal returns the current instant, expressed in the tenant zone.
// The underlying instant is still UTC; only the presentation differs.
func (z *Zone) NowLocal() time.Time {
	return z.clock.Now().In(z.loc)
}

// TodayInZone returns today's calendar date, as YYYY-MM-DD, in the tenant zone.
func (z *Zone) TodayInZone() string {
	return z.NowLocal().Format(dateLayout)
}

// LocalDateTimeAt constructs the single unambiguous UTC instant
// corresponding to wall-clock hh:mm on the given calendar date (YYYY-MM-DD)
// in the tenant zone. DST transitions are resolved by time.Date/Location
// the same way the Go runtime resolves any wall-clock construction: the
// offset in effect at that wall-clock moment in the zone is used.
func (z *Zone) LocalDateTimeAt(date string, hm HourMinute) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, date, z.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hm.Hour, hm.Minute, 0, 0, z.loc), nil
}

// AddDays returns the calendar date n days after date (n may be negative),
// still expressed as YYYY-MM-DD in the tenant zone.
func (z *Zone) AddDays(date string, n int) (string, error) {
	d, err := time.ParseInLocation(dateLayout, date, z.loc)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return d.AddDate(0, 0, n).Format(dateLayout), nil
}

// DayOfWeek returns 0=Sunday..6=Saturday for the given calendar date.
func (z *Zone) DayOfWeek(date string) (int, error) {
	d, err := time.ParseInLocation(dateLayout, date, z.loc)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", date, err)
	}
	return int(d.Weekday()), nil
}

// WeekStart returns the Monday on or before the given date (weekStartsOn=Monday).
func (z *Zone) WeekStart(date string) (string, error) {
	d, err := time.ParseInLocation(dateLayout, date, z.loc)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	// time.Monday == 1, time.Sunday == 0. Convert to an offset back to Monday.
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset).Format(dateLayout), nil
}

// MustParseDate is a test/seed convenience; panics on malformed input.
func MustParseDate(date string) time.Time {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		panic(err)
	}
	return t
}
