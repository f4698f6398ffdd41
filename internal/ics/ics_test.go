package ics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calremind/internal/event"
	"calremind/internal/storage"
	logx "calremind/pkg/logx"
)

func calendar(lines ...string) string {
	head := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//calremind//test//EN"}
	all := append(head, lines...)
	all = append(all, "END:VCALENDAR", "")
	return strings.Join(all, "\r\n")
}

var sample = calendar(
	"BEGIN:VEVENT",
	"UID:standup-1",
	"DTSTAMP:20260301T000000Z",
	"SUMMARY:Standup",
	"DESCRIPTION:Room 4",
	"DTSTART;TZID=Europe/Berlin:20260302T090000",
	"DTEND;TZID=Europe/Berlin:20260302T091500",
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20260331T000000Z",
	"BEGIN:VALARM",
	"ACTION:DISPLAY",
	"DESCRIPTION:Standup",
	"TRIGGER:-PT15M",
	"END:VALARM",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"DTSTAMP:20260301T000000Z",
	"SUMMARY:Dentist",
	"DTSTART:20260310T140000Z",
	"END:VEVENT",
)

func TestParseMapsEvents(t *testing.T) {
	evs, skips, err := Parse(strings.NewReader(sample), ParseOptions{
		DefaultReminder: event.Minutes(30),
		Source:          "work.ics",
		Log:             logx.Nop(),
	})
	require.NoError(t, err)
	assert.Empty(t, skips)
	require.Len(t, evs, 2)

	standup := evs[0]
	assert.Equal(t, "standup-1", standup.ID)
	assert.Equal(t, "Standup", standup.Title)
	assert.Equal(t, "Room 4", standup.Description)
	assert.Equal(t, "Europe/Berlin", standup.TimeZone)
	assert.True(t, standup.Start.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)), standup.Start)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;BYDAY=MO,WE", standup.Recurrence)
	assert.True(t, standup.RecurrenceEnd.Equal(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)), standup.RecurrenceEnd)
	require.NotNil(t, standup.ReminderMinutes)
	assert.Equal(t, 15, *standup.ReminderMinutes)

	dentist := evs[1]
	want := uuid.NewSHA1(uuid.NameSpaceURL, []byte("work.ics|Dentist|2026-03-10T14:00:00Z")).String()
	assert.Equal(t, want, dentist.ID)
	assert.Equal(t, "UTC", dentist.TimeZone)
	assert.False(t, dentist.IsRecurring())
	require.NotNil(t, dentist.ReminderMinutes)
	assert.Equal(t, 30, *dentist.ReminderMinutes)
}

func TestParseUnsupportedRuleImportsOneShot(t *testing.T) {
	cal := calendar(
		"BEGIN:VEVENT",
		"UID:hourly",
		"DTSTART:20260302T090000Z",
		"RRULE:FREQ=HOURLY;INTERVAL=2",
		"END:VEVENT",
	)
	evs, skips, err := Parse(strings.NewReader(cal), ParseOptions{Log: logx.Nop()})
	require.NoError(t, err)
	assert.Empty(t, skips)
	require.Len(t, evs, 1)
	assert.Empty(t, evs[0].Recurrence)
	assert.Nil(t, evs[0].ReminderMinutes)
}

func TestParseSkipsEventWithoutStart(t *testing.T) {
	cal := calendar(
		"BEGIN:VEVENT",
		"UID:nostart",
		"SUMMARY:Floating",
		"END:VEVENT",
	)
	evs, skips, err := Parse(strings.NewReader(cal), ParseOptions{Log: logx.Nop()})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Len(t, skips, 1)
}

func TestMapRule(t *testing.T) {
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	text, until, err := mapRule("FREQ=WEEKLY", monday)
	require.NoError(t, err)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;BYDAY=MO", text)
	assert.True(t, until.IsZero())

	text, _, err = mapRule("FREQ=DAILY;COUNT=3", monday)
	require.NoError(t, err)
	assert.Equal(t, "RRULE:FREQ=DAILY;COUNT=3", text)

	_, until, err = mapRule("FREQ=WEEKLY;BYDAY=FR;UNTIL=20260320", monday)
	require.NoError(t, err)
	assert.True(t, until.Equal(time.Date(2026, 3, 20, 23, 59, 59, 0, time.UTC)), until)

	_, _, err = mapRule("FREQ=MINUTELY", monday)
	assert.ErrorIs(t, err, errUnsupportedFreq)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"-PT15M":   -15 * time.Minute,
		"PT0S":     0,
		"-P1D":     -24 * time.Hour,
		"-P1W":     -7 * 24 * time.Hour,
		"-PT1H30M": -90 * time.Minute,
		"+PT5M":    5 * time.Minute,
		"P1DT2H":   26 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "P", "PT", "-PT15", "P1H", "PT1D", "15M", "PTT1M", "P999999999W", "-P99999999999999D", "P15000W15000W"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestAlarmRelatedEnd(t *testing.T) {
	cal := calendar(
		"BEGIN:VEVENT",
		"UID:rel",
		"DTSTART:20260302T090000Z",
		"DTEND:20260302T100000Z",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER;RELATED=END:-PT90M",
		"END:VALARM",
		"END:VEVENT",
	)
	evs, _, err := Parse(strings.NewReader(cal), ParseOptions{Log: logx.Nop()})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].ReminderMinutes)
	assert.Equal(t, 30, *evs[0].ReminderMinutes)
}

func TestImporterSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "work.ics")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	st := storage.NewMemory()
	im := NewImporter(st, logx.Nop(), Options{DefaultReminder: event.Minutes(10)})
	ctx := context.Background()

	res, err := im.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Result{Source: "work.ics", Parsed: 2, Imported: 2}, res)

	res, err = im.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 2, res.Unchanged)

	got, ok, err := st.Get(ctx, "standup-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 15, *got.ReminderMinutes)
}

func TestImporterMissingFile(t *testing.T) {
	im := NewImporter(storage.NewMemory(), logx.Nop(), Options{})
	_, err := im.ImportFile(context.Background(), filepath.Join(t.TempDir(), "nope.ics"))
	assert.Error(t, err)
}
