package recurrence

import (
	"strings"
	"time"
)

// WeekdaySet is a set of weekdays stored as a bitmask (bit n = time.Weekday(n)).
// The zero value is the empty set.
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

// isoOrder lists weekdays by ISO number (Monday=1 .. Sunday=7).
var isoOrder = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var weekdayCodes = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

// Weekdays builds a set from the given days.
func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Empty() bool { return s&allWeekdays == 0 }

func (s WeekdaySet) Len() int {
	n := 0
	for _, d := range isoOrder {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days returns the members in ISO order (Monday first).
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for _, d := range isoOrder {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders the set as comma-joined two-letter codes in ISO order ("MO,WE").
func (s WeekdaySet) String() string {
	days := s.Days()
	codes := make([]string, 0, len(days))
	for _, d := range days {
		codes = append(codes, weekdayCodes[d])
	}
	return strings.Join(codes, ",")
}

// WeekdayCode returns the two-letter RRULE code of d.
func WeekdayCode(d time.Weekday) string { return weekdayCodes[d] }

// ParseWeekdayCode maps a two-letter RRULE code to a weekday.
func ParseWeekdayCode(code string) (time.Weekday, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for d, c := range weekdayCodes {
		if c == code {
			return d, true
		}
	}
	return time.Sunday, false
}

// ParseWeekdays parses a comma-separated code list. Unknown codes are dropped.
func ParseWeekdays(csv string) WeekdaySet {
	var s WeekdaySet
	for _, part := range strings.Split(csv, ",") {
		if d, ok := ParseWeekdayCode(part); ok {
			s = s.With(d)
		}
	}
	return s
}
