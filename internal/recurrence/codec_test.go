package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWeeklyCount(t *testing.T) {
	t.Parallel()
	const text = "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=5"

	r, err := Decode(text)
	require.NoError(t, err)
	want := MustNew(Weekly, Weekdays(time.Monday, time.Wednesday), Count(5))
	assert.True(t, r.Equal(want), "got %s, want %s", r, want)
	assert.Equal(t, text, Encode(r))
}

func TestEncodeFieldOrder(t *testing.T) {
	t.Parallel()
	until := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{name: "daily never", rule: MustNew(Daily, 0, Never()), want: "RRULE:FREQ=DAILY"},
		{
			name: "weekly days sorted by iso weekday",
			rule: MustNew(Weekly, Weekdays(time.Sunday, time.Friday, time.Monday), Never()),
			want: "RRULE:FREQ=WEEKLY;BYDAY=MO,FR,SU",
		},
		{
			name: "weekly until",
			rule: MustNew(Weekly, Weekdays(time.Tuesday), Until(until)),
			want: "RRULE:FREQ=WEEKLY;BYDAY=TU;UNTIL=20260301T063000Z",
		},
		{name: "weekly without days", rule: MustNew(Weekly, 0, Count(2)), want: "RRULE:FREQ=WEEKLY;COUNT=2"},
		{name: "monthly drops weekdays", rule: MustNew(Monthly, Weekdays(time.Monday), Never()), want: "RRULE:FREQ=MONTHLY"},
		{name: "yearly count", rule: MustNew(Yearly, 0, Count(10)), want: "RRULE:FREQ=YEARLY;COUNT=10"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Encode(tt.rule))
		})
	}
}

func TestRoundTripAllWeekdaySets(t *testing.T) {
	t.Parallel()
	until := time.Date(2027, 12, 31, 23, 59, 59, 0, time.UTC)
	ends := []End{Never(), Count(1), Count(52), Until(until)}
	for mask := WeekdaySet(1); mask <= allWeekdays; mask++ {
		for _, end := range ends {
			r := MustNew(Weekly, mask, end)
			got, err := Decode(Encode(r))
			if err != nil {
				t.Fatalf("Decode(Encode(%s)) error: %v", r, err)
			}
			if !got.Equal(r) {
				t.Fatalf("round trip mismatch: got %s, want %s", got, r)
			}
		}
	}
	for _, f := range []Frequency{Daily, Monthly, Yearly} {
		r := MustNew(f, 0, Until(until.In(time.FixedZone("EAT", 3*3600))))
		got, err := Decode(Encode(r))
		require.NoError(t, err)
		assert.True(t, got.Equal(r), "got %s, want %s", got, r)
	}
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"",
		"FREQ=WEEKLY;BYDAY=MO",
		"RRULE:BYDAY=MO",
		"RRULE:FREQ=HOURLY",
		"RRULE:FREQ=NONE",
		"RRULE:FREQ=WEEKLY;UNTIL=2026-03-01",
		"RRULE:FREQ=WEEKLY;UNTIL=20260301",
	} {
		_, err := Decode(text)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformed", text, err)
		}
	}
}

func TestDecodeLenient(t *testing.T) {
	t.Parallel()

	r, err := Decode("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,XX,fr;WKST=SU")
	require.NoError(t, err)
	assert.Equal(t, Weekdays(time.Monday, time.Friday), r.Weekdays())
	assert.Equal(t, EndNever, r.End().Kind)

	r, err = Decode("RRULE:FREQ=WEEKLY;BYDAY=XX,YY")
	require.NoError(t, err)
	assert.True(t, r.Weekdays().Empty())

	r, err = Decode("RRULE:FREQ=DAILY;COUNT=abc")
	require.NoError(t, err)
	assert.Equal(t, EndNever, r.End().Kind)

	r, err = Decode("RRULE:freq=weekly;byday=TU;COUNT=3;UNTIL=20260105T090000Z")
	require.NoError(t, err)
	assert.Equal(t, EndUntil, r.End().Kind)
	assert.True(t, r.Weekdays().Has(time.Tuesday))
}

func TestDecodeOptional(t *testing.T) {
	t.Parallel()
	_, ok, err := DecodeOptional("  ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = DecodeOptional("garbage")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.False(t, ok)

	r, ok, err := DecodeOptional("RRULE:FREQ=WEEKLY;BYDAY=SA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Weekly, r.Frequency())
}
