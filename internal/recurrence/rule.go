package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is the repeat unit of a rule.
type Frequency int

const (
	FreqNone Frequency = iota
	Daily
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return "NONE"
	}
}

// ParseFrequency maps an RRULE FREQ value to a Frequency.
// NONE is not a valid rule frequency and is rejected.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DAILY":
		return Daily, true
	case "WEEKLY":
		return Weekly, true
	case "MONTHLY":
		return Monthly, true
	case "YEARLY":
		return Yearly, true
	default:
		return FreqNone, false
	}
}

// EndKind tags the End variant.
type EndKind int

const (
	EndNever EndKind = iota
	EndUntil
	EndCount
)

// End describes when a rule stops producing occurrences.
type End struct {
	Kind  EndKind
	Until time.Time // EndUntil only; UTC, whole seconds
	Count int       // EndCount only; > 0
}

func Never() End { return End{Kind: EndNever} }

// Until returns an UNTIL end condition. The bound is kept in UTC at second
// precision, which is what the text form can carry.
func Until(t time.Time) End {
	return End{Kind: EndUntil, Until: t.UTC().Truncate(time.Second)}
}

func Count(n int) End { return End{Kind: EndCount, Count: n} }

func (e End) Equal(o End) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case EndUntil:
		return e.Until.Equal(o.Until)
	case EndCount:
		return e.Count == o.Count
	default:
		return true
	}
}

func (e End) String() string {
	switch e.Kind {
	case EndUntil:
		return "UNTIL(" + e.Until.Format(untilLayout) + ")"
	case EndCount:
		return fmt.Sprintf("COUNT(%d)", e.Count)
	default:
		return "NEVER"
	}
}

var (
	ErrNoFrequency  = errors.New("recurrence: frequency required")
	ErrInvalidCount = errors.New("recurrence: count must be > 0")
	ErrUntilBefore  = errors.New("recurrence: until must be after event start")
)

// Rule is an immutable recurrence description. Build it with New; an event
// without recurrence has no Rule at all (there is no "none" rule).
type Rule struct {
	freq Frequency
	days WeekdaySet
	end  End
}

// New validates and normalizes a rule. Weekdays are only kept for Weekly.
func New(freq Frequency, days WeekdaySet, end End) (Rule, error) {
	if freq <= FreqNone || freq > Yearly {
		return Rule{}, ErrNoFrequency
	}
	if freq != Weekly {
		days = 0
	}
	switch end.Kind {
	case EndCount:
		if end.Count <= 0 {
			return Rule{}, ErrInvalidCount
		}
		end = Count(end.Count)
	case EndUntil:
		if end.Until.IsZero() {
			return Rule{}, fmt.Errorf("recurrence: until bound is zero")
		}
		end = Until(end.Until)
	default:
		end = Never()
	}
	return Rule{freq: freq, days: days & allWeekdays, end: end}, nil
}

// MustNew is New for static rules in tests and examples.
func MustNew(freq Frequency, days WeekdaySet, end End) Rule {
	r, err := New(freq, days, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) Frequency() Frequency { return r.freq }
func (r Rule) Weekdays() WeekdaySet { return r.days }
func (r Rule) End() End             { return r.end }

func (r Rule) Equal(o Rule) bool {
	return r.freq == o.freq && r.days == o.days && r.end.Equal(o.end)
}

// ValidFor checks the rule against the event it is attached to.
func (r Rule) ValidFor(start time.Time) error {
	if r.end.Kind == EndUntil && !r.end.Until.After(start) {
		return ErrUntilBefore
	}
	return nil
}

func (r Rule) String() string {
	return fmt.Sprintf("Rule(%s, {%s}, %s)", r.freq, r.days, r.end)
}
