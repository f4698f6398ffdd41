package event

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calremind/internal/recurrence"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   Event
		want error
	}{
		{name: "ok one-shot", ev: Event{ID: "a", Start: start, ReminderMinutes: Minutes(10)}},
		{name: "missing id", ev: Event{Start: start}, want: ErrMissingID},
		{name: "missing start", ev: Event{ID: "a"}, want: ErrMissingStart},
		{name: "negative offset", ev: Event{ID: "a", Start: start, ReminderMinutes: Minutes(-1)}, want: ErrNegativeOffset},
		{name: "bad zone", ev: Event{ID: "a", Start: start, TimeZone: "Mars/Olympus"}, want: ErrUnknownTimeZone},
		{name: "bad rule", ev: Event{ID: "a", Start: start, Recurrence: "FREQ=WEEKLY"}, want: recurrence.ErrMalformed},
		{
			name: "until not after start",
			ev:   Event{ID: "a", Start: start, Recurrence: "RRULE:FREQ=WEEKLY;BYDAY=MO;UNTIL=20260105T090000Z"},
			want: recurrence.ErrUntilBefore,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ev.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNeedsReschedule(t *testing.T) {
	t.Parallel()
	base := Event{
		ID:              "a",
		Title:           "standup",
		Start:           time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		ReminderMinutes: Minutes(15),
		Recurrence:      "RRULE:FREQ=WEEKLY;BYDAY=MO",
	}

	renamed := base.Clone()
	renamed.Title = "daily sync"
	renamed.Description = "room 4"
	assert.False(t, NeedsReschedule(base, renamed))

	moved := base.Clone()
	moved.Start = moved.Start.Add(time.Hour)
	assert.True(t, NeedsReschedule(base, moved))

	offset := base.Clone()
	*offset.ReminderMinutes = 30
	assert.True(t, NeedsReschedule(base, offset))
	assert.Equal(t, 15, *base.ReminderMinutes)

	noReminder := base.Clone()
	noReminder.ReminderMinutes = nil
	assert.True(t, NeedsReschedule(base, noReminder))

	bounded := base.Clone()
	bounded.RecurrenceEnd = base.Start.AddDate(0, 1, 0)
	assert.True(t, NeedsReschedule(base, bounded))
}

func TestLocation(t *testing.T) {
	t.Parallel()
	ev := Event{Start: time.Date(2026, 1, 5, 9, 0, 0, 0, time.FixedZone("X", 3600)), TimeZone: "Africa/Addis_Ababa"}
	assert.Equal(t, "Africa/Addis_Ababa", ev.Location().String())

	ev.TimeZone = ""
	assert.Equal(t, "X", ev.Location().String())
}
