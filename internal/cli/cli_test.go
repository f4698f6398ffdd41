package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"rrule", "encode"}, {"rrule", "decode"}, {"next"}, {"events", "list"}, {"events", "put"}, {"events", "delete"}, {"import"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "--format", "xml", "rrule", "decode", "RRULE:FREQ=DAILY")
	assert.ErrorContains(t, err, "invalid format")
}

func TestRRuleEncode(t *testing.T) {
	out, err := run(t, "rrule", "encode", "--freq", "weekly", "--days", "WE,MO", "--until", "2026-12-31")
	require.NoError(t, err)
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20261231T235959Z\n")
	assert.Contains(t, out, "weekdays:  MO,WE")

	out, err = run(t, "rrule", "encode", "--freq", "daily", "--count", "10", "--days", "MO")
	require.NoError(t, err)
	assert.Contains(t, out, "RRULE:FREQ=DAILY;COUNT=10\n")

	_, err = run(t, "rrule", "encode", "--freq", "hourly")
	assert.Error(t, err)
}

func TestRRuleDecodeJSON(t *testing.T) {
	out, err := run(t, "--format", "json", "rrule", "decode", "RRULE:FREQ=WEEKLY;BYDAY=TU,FR;COUNT=4")
	require.NoError(t, err)
	var v ruleView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "WEEKLY", v.Frequency)
	assert.Equal(t, []string{"TU", "FR"}, v.Weekdays)
	assert.Equal(t, 4, v.Count)

	_, err = run(t, "rrule", "decode", "FREQ=WEEKLY")
	assert.Error(t, err)
}

func TestNextWeekly(t *testing.T) {
	out, err := run(t, "next",
		"--start", "2026-03-02T09:00:00+01:00",
		"--tz", "Europe/Berlin",
		"--rule", "RRULE:FREQ=WEEKLY;BYDAY=MO,TH",
		"--after", "2026-03-02T10:00:00+01:00",
		"--remind", "15",
		"-n", "3",
	)
	require.NoError(t, err)
	assert.Equal(t,
		"2026-03-05T09:00:00+01:00  (remind at 2026-03-05T08:45:00+01:00)\n"+
			"2026-03-09T09:00:00+01:00  (remind at 2026-03-09T08:45:00+01:00)\n"+
			"2026-03-12T09:00:00+01:00  (remind at 2026-03-12T08:45:00+01:00)\n",
		out)
}

func TestNextBoundedAndOneShot(t *testing.T) {
	out, err := run(t, "next",
		"--start", "2026-03-02T09:00:00Z",
		"--rule", "RRULE:FREQ=WEEKLY;BYDAY=MO",
		"--until", "2026-03-09",
		"--after", "2026-03-02T10:00:00Z",
		"-n", "5",
	)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09T09:00:00Z\n", out)

	out, err = run(t, "next", "--start", "2026-03-02T09:00:00Z", "--after", "2026-03-03T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "no upcoming occurrence\n", out)
}

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calremind//test//EN
BEGIN:VEVENT
UID:review@example.com
DTSTAMP:20260101T000000Z
DTSTART:20400105T090000Z
SUMMARY:Review
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT10M
END:VALARM
END:VEVENT
END:VCALENDAR
`

func TestImportListDelete(t *testing.T) {
	dir := t.TempDir()
	icsPath := filepath.Join(dir, "team.ics")
	require.NoError(t, os.WriteFile(icsPath, []byte(sampleICS), 0o644))
	store := filepath.Join(dir, "events.json")

	out, err := run(t, "import", "--driver", "file", "--db", store, icsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "team.ics: parsed=1 imported=1 unchanged=0 skipped=0")

	out, err = run(t, "import", "--driver", "file", "--db", store, icsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported=0 unchanged=1")

	out, err = run(t, "events", "list", "--driver", "file", "--db", store)
	require.NoError(t, err)
	assert.Contains(t, out, "review@example.com")
	assert.Contains(t, out, "10m")
	assert.Contains(t, out, "Review")

	out, err = run(t, "--format", "json", "events", "delete", "--driver", "file", "--db", store, "review@example.com", "missing")
	require.NoError(t, err)
	var res map[string]bool
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, map[string]bool{"review@example.com": true, "missing": false}, res)

	_, err = run(t, "events", "list", "--driver", "memory")
	assert.Error(t, err)
}

func TestEventsPut(t *testing.T) {
	store := filepath.Join(t.TempDir(), "events.json")
	args := []string{"events", "put", "--driver", "file", "--db", store,
		"--id", "standup", "--title", "Standup",
		"--start", "2026-03-02T09:00:00+01:00", "--tz", "Europe/Berlin",
		"--rule", "RRULE:FREQ=WEEKLY;BYDAY=MO,FR", "--until", "2026-06-30", "--remind", "5"}

	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Equal(t, "created standup\n", out)

	out, err = run(t, args...)
	require.NoError(t, err)
	assert.Equal(t, "replaced standup\n", out)

	out, err = run(t, "events", "list", "--driver", "file", "--db", store)
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-02T09:00:00+01:00")
	assert.Contains(t, out, "5m")

	_, err = run(t, "events", "put", "--driver", "file", "--db", store, "--start", "2026-03-02T09:00:00Z", "--rule", "FREQ=WEEKLY")
	assert.Error(t, err, "malformed rule is rejected")
}
