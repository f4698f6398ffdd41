// Package occurrence computes the next instant a calendar event happens.
//
// Everything here is a pure function of its arguments: no clock reads, no I/O.
package occurrence

import (
	"time"

	"calremind/internal/event"
	"calremind/internal/recurrence"
)

// MaxSearchDays caps the forward day-by-day scan of Next.
const MaxSearchDays = 365

// Next returns the first instant strictly after now that falls on one of days,
// at start's wall-clock time of day, in start's location.
//
// The scan begins on the calendar date of max(start, now) and steps one day at
// a time for at most MaxSearchDays days. A non-zero end is an inclusive bound:
// the scan stops as soon as a candidate lies after it. An empty day set, or a
// bound that cuts off every remaining match, yields ok == false.
func Next(start time.Time, days recurrence.WeekdaySet, end, now time.Time) (time.Time, bool) {
	if start.IsZero() || days.Empty() {
		return time.Time{}, false
	}
	loc := start.Location()
	cursor := start
	if now.After(cursor) {
		cursor = now.In(loc)
	}
	y, m, d := cursor.Date()
	hh, mm, ss := start.Clock()

	for i := 0; i < MaxSearchDays; i++ {
		candidate := time.Date(y, m, d+i, hh, mm, ss, 0, loc)
		if !end.IsZero() && candidate.After(end) {
			return time.Time{}, false
		}
		// Weekday of the calendar date itself; DST gaps can shift candidate's clock.
		wd := time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC).Weekday()
		if days.Has(wd) && candidate.After(now) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// NextOneShot returns start if it is still ahead of now.
func NextOneShot(start, now time.Time) (time.Time, bool) {
	if start.IsZero() || !start.After(now) {
		return time.Time{}, false
	}
	return start, true
}

// ForEvent resolves the next occurrence of ev strictly after after.
//
// Without a rule the event is one-shot. Weekly rules are laid out in the
// event's location and bounded by the earlier of RecurrenceEnd and the rule's
// UNTIL. Other frequencies are decoded but have no computed occurrence.
func ForEvent(ev event.Event, rule recurrence.Rule, hasRule bool, after time.Time) (time.Time, bool) {
	if !hasRule {
		return NextOneShot(ev.Start, after)
	}
	if rule.Frequency() != recurrence.Weekly {
		return time.Time{}, false
	}
	return Next(ev.Start.In(ev.Location()), rule.Weekdays(), Bound(ev, rule), after)
}

// Bound is the effective inclusive end of ev's recurrence (zero when unbounded).
func Bound(ev event.Event, rule recurrence.Rule) time.Time {
	end := ev.RecurrenceEnd
	if re := rule.End(); re.Kind == recurrence.EndUntil {
		if end.IsZero() || re.Until.Before(end) {
			end = re.Until
		}
	}
	return end
}
