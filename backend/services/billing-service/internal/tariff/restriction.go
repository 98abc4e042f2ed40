package tariff

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock offset from midnight in seconds, 0..86400.
type TimeOfDay int32

// ParseTimeOfDay reads HH:MM or HH:MM:SS. 24:00 is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time of day %q", ErrInvalidTariff, s)
	}
	var fields [3]int
	limits := [3]int{24, 59, 59}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: time of day %q", ErrInvalidTariff, s)
		}
		fields[i] = n
	}
	total := fields[0]*3600 + fields[1]*60 + fields[2]
	if total > secondsPerDay {
		return 0, fmt.Errorf("%w: time of day %q", ErrInvalidTariff, s)
	}
	return TimeOfDay(total), nil
}

func (t TimeOfDay) String() string {
	s := int(t)
	if s%60 == 0 {
		return fmt.Sprintf("%02d:%02d", s/3600, s%3600/60)
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

func timeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// TimeRestriction limits a component to a same-day wall-clock window on some weekdays.
// Start > End wraps midnight; Start == End covers the whole day.
type TimeRestriction struct {
	Start TimeOfDay
	End   TimeOfDay
	days  uint8
}

// NewTimeRestriction builds a restriction; no days means every day.
func NewTimeRestriction(start, end TimeOfDay, days ...time.Weekday) TimeRestriction {
	r := TimeRestriction{Start: start % secondsPerDay, End: end % secondsPerDay}
	for _, d := range days {
		r.days |= 1 << uint(d)
	}
	if r.days == 0 {
		r.days = 0x7f
	}
	return r
}

// Days returns the weekdays in Sunday-first order.
func (r TimeRestriction) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.days&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

// Contains reports whether the wall-clock instant (already in the tariff zone) falls in the window.
// The weekday checked is the instant's own, so a wrapped MON 22:00-06:00 window
// covers Monday before 06:00 and from 22:00, not Tuesday morning.
func (r TimeRestriction) Contains(instant time.Time) bool {
	if r.days&(1<<uint(instant.Weekday())) == 0 {
		return false
	}
	tod := timeOfDayOf(instant)
	switch {
	case r.Start < r.End:
		return tod >= r.Start && tod < r.End
	case r.Start > r.End:
		return tod >= r.Start || tod < r.End
	default:
		return true
	}
}

type span struct{ from, to TimeOfDay }

func (r TimeRestriction) spans() []span {
	switch {
	case r.Start < r.End:
		return []span{{r.Start, r.End}}
	case r.Start > r.End:
		return []span{{r.Start, secondsPerDay}, {0, r.End}}
	default:
		return []span{{0, secondsPerDay}}
	}
}

// Overlaps reports whether both restrictions can match the same instant.
func (r TimeRestriction) Overlaps(other TimeRestriction) bool {
	if r.days&other.days == 0 {
		return false
	}
	for _, a := range r.spans() {
		for _, b := range other.spans() {
			if a.from < b.to && b.from < a.to {
				return true
			}
		}
	}
	return false
}

var weekdayNames = map[string]time.Weekday{
	"SUNDAY": time.Sunday, "SUN": time.Sunday,
	"MONDAY": time.Monday, "MON": time.Monday,
	"TUESDAY": time.Tuesday, "TUE": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "WED": time.Wednesday,
	"THURSDAY": time.Thursday, "THU": time.Thursday,
	"FRIDAY": time.Friday, "FRI": time.Friday,
	"SATURDAY": time.Saturday, "SAT": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: day of week %q", ErrInvalidTariff, s)
	}
	return d, nil
}
