// Package ics imports iCalendar (.ics) files into the event store.
//
// Each VEVENT becomes one event.Event. RRULEs are parsed with rrule-go and
// mapped onto the supported recurrence model; UNTIL becomes the event's
// RecurrenceEnd. The first VALARM with a duration TRIGGER before the start
// supplies the reminder offset.
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"calremind/internal/event"
	"calremind/internal/recurrence"
	logx "calremind/pkg/logx"
)

// ParseOptions tune how VEVENTs are mapped.
type ParseOptions struct {
	// DefaultReminder applies when an event carries no usable VALARM.
	DefaultReminder *int
	// Source seeds deterministic ids for VEVENTs without UID.
	Source string
	Log    logx.Logger
}

// Parse reads one calendar. Events that cannot be mapped are skipped and
// reported in the returned error slice; the calendar as a whole only fails
// when it cannot be parsed.
func Parse(r io.Reader, opt ParseOptions) ([]event.Event, []error, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse calendar: %w", err)
	}
	var (
		out   []event.Event
		skips []error
	)
	for _, ve := range cal.Events() {
		ev, err := mapEvent(ve, opt)
		if err != nil {
			skips = append(skips, err)
			continue
		}
		out = append(out, ev)
	}
	return out, skips, nil
}

func mapEvent(ve *ical.VEvent, opt ParseOptions) (event.Event, error) {
	var ev event.Event

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = ve.GetAllDayStartAt(); err != nil {
			return ev, fmt.Errorf("vevent %q: DTSTART: %w", propValue(ve, ical.ComponentPropertyUniqueId), err)
		}
	}
	ev.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		ev.End = end
	} else if end, err := ve.GetAllDayEndAt(); err == nil {
		ev.End = end
	}
	ev.TimeZone = zoneOf(ve, start)

	ev.Title = unescapeText(propValue(ve, ical.ComponentPropertySummary))
	ev.Description = unescapeText(propValue(ve, ical.ComponentPropertyDescription))

	ev.ID = strings.TrimSpace(propValue(ve, ical.ComponentPropertyUniqueId))
	if ev.ID == "" {
		seed := opt.Source + "|" + ev.Title + "|" + start.UTC().Format(time.RFC3339)
		ev.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
	}

	if raw := strings.TrimSpace(propValue(ve, ical.ComponentPropertyRrule)); raw != "" {
		text, until, err := mapRule(raw, start)
		if err != nil {
			opt.Log.Warn("unsupported RRULE; importing as one-shot",
				logx.String("event_id", ev.ID), logx.String("rrule", raw), logx.Err(err))
		} else {
			ev.Recurrence = text
			ev.RecurrenceEnd = until
		}
	}

	ev.ReminderMinutes = alarmMinutes(ve, ev.Start, ev.End)
	if ev.ReminderMinutes == nil && opt.DefaultReminder != nil {
		ev.ReminderMinutes = event.Minutes(*opt.DefaultReminder)
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

var errUnsupportedFreq = errors.New("unsupported frequency")

// mapRule converts an iCalendar RRULE value to persisted rule text plus an
// optional inclusive end bound.
func mapRule(raw string, start time.Time) (string, time.Time, error) {
	o, err := rrule.StrToROption(strings.TrimPrefix(raw, recurrence.Prefix))
	if err != nil {
		return "", time.Time{}, err
	}
	var freq recurrence.Frequency
	switch o.Freq {
	case rrule.DAILY:
		freq = recurrence.Daily
	case rrule.WEEKLY:
		freq = recurrence.Weekly
	case rrule.MONTHLY:
		freq = recurrence.Monthly
	case rrule.YEARLY:
		freq = recurrence.Yearly
	default:
		return "", time.Time{}, fmt.Errorf("%w: %v", errUnsupportedFreq, o.Freq)
	}

	var days recurrence.WeekdaySet
	for i := range o.Byweekday {
		// rrule-go numbers weekdays from Monday = 0.
		days = days.With(time.Weekday((o.Byweekday[i].Day() + 1) % 7))
	}
	if freq == recurrence.Weekly && days.Empty() {
		days = days.With(start.Weekday())
	}

	end := recurrence.Never()
	if o.Count > 0 {
		end = recurrence.Count(o.Count)
	}
	rule, err := recurrence.New(freq, days, end)
	if err != nil {
		return "", time.Time{}, err
	}
	until := o.Until
	if d, ok := dateOnlyUntil(raw); ok {
		// A DATE bound includes the whole day in the event's zone.
		until = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, start.Location())
	}
	return recurrence.Encode(rule), until, nil
}

func dateOnlyUntil(raw string) (time.Time, bool) {
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "UNTIL") {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) != 8 {
			return time.Time{}, false
		}
		d, err := time.Parse("20060102", v)
		return d, err == nil
	}
	return time.Time{}, false
}

const propTrigger = ical.ComponentProperty("TRIGGER")

// alarmMinutes reads the first VALARM whose TRIGGER is a duration at or
// before the start (or end, with RELATED=END).
func alarmMinutes(ve *ical.VEvent, start, end time.Time) *int {
	for _, c := range ve.Components {
		a, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		p := a.GetProperty(propTrigger)
		if p == nil {
			continue
		}
		v := strings.TrimSpace(p.Value)
		if isDateTimeTrigger(p.ICalParameters) {
			at, err := time.Parse("20060102T150405Z", v)
			if err != nil || at.After(start) {
				continue
			}
			return event.Minutes(int(start.Sub(at) / time.Minute))
		}
		d, err := ParseDuration(v)
		if err != nil {
			continue
		}
		anchor := start
		if related := p.ICalParameters["RELATED"]; len(related) > 0 && strings.EqualFold(related[0], "END") && !end.IsZero() {
			anchor = end
		}
		fire := anchor.Add(d)
		if fire.After(start) {
			continue
		}
		return event.Minutes(int(start.Sub(fire) / time.Minute))
	}
	return nil
}

func isDateTimeTrigger(params map[string][]string) bool {
	vs := params["VALUE"]
	return len(vs) > 0 && strings.EqualFold(vs[0], "DATE-TIME")
}

// zoneOf names the zone recurrences are laid out in: the DTSTART TZID when it
// resolves, else the zone of the parsed instant.
func zoneOf(ve *ical.VEvent, start time.Time) string {
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
			if _, err := time.LoadLocation(tz[0]); err == nil {
				return tz[0]
			}
		}
	}
	if start.Location() == time.UTC {
		return "UTC"
	}
	return ""
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string { return textUnescaper.Replace(s) }
