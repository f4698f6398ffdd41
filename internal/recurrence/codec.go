package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prefix is the fixed tag every encoded rule starts with.
const Prefix = "RRULE:"

const untilLayout = "20060102T150405Z"

// ErrMalformed is returned by Decode for text that is not a usable rule.
var ErrMalformed = errors.New("malformed recurrence rule")

// Encode renders r as "RRULE:FREQ=..[;BYDAY=..][;UNTIL=..|;COUNT=..]".
// Field order is fixed so equal rules always encode to equal text.
func Encode(r Rule) string {
	parts := make([]string, 0, 3)
	parts = append(parts, "FREQ="+r.freq.String())
	if r.freq == Weekly && !r.days.Empty() {
		parts = append(parts, "BYDAY="+r.days.String())
	}
	switch r.end.Kind {
	case EndUntil:
		parts = append(parts, "UNTIL="+r.end.Until.UTC().Format(untilLayout))
	case EndCount:
		parts = append(parts, "COUNT="+strconv.Itoa(r.end.Count))
	}
	return Prefix + strings.Join(parts, ";")
}

// Decode parses text produced by Encode (or a compatible writer).
//
// It fails when the prefix is missing, FREQ is absent or unknown, or UNTIL is
// not a compact UTC timestamp. Unknown keys are ignored and unknown BYDAY codes
// are dropped. When both UNTIL and COUNT are present, UNTIL wins; a COUNT that
// is not a positive integer is ignored.
func Decode(text string) (Rule, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return Rule{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}
	fields := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(text, Prefix), ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		fields[k] = strings.TrimSpace(v)
	}

	rawFreq, ok := fields["FREQ"]
	if !ok {
		return Rule{}, fmt.Errorf("%w: FREQ missing", ErrMalformed)
	}
	freq, ok := ParseFrequency(rawFreq)
	if !ok {
		return Rule{}, fmt.Errorf("%w: unknown FREQ %q", ErrMalformed, rawFreq)
	}

	var days WeekdaySet
	if v, ok := fields["BYDAY"]; ok {
		days = ParseWeekdays(v)
	}

	end := Never()
	if v, ok := fields["COUNT"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			end = Count(n)
		}
	}
	if v, ok := fields["UNTIL"]; ok {
		t, err := time.Parse(untilLayout, strings.ToUpper(v))
		if err != nil {
			return Rule{}, fmt.Errorf("%w: bad UNTIL %q", ErrMalformed, v)
		}
		end = Until(t)
	}

	return New(freq, days, end)
}

// DecodeOptional decodes text that may legitimately be empty (one-shot events).
// ok is false for empty text; err is only set for non-empty malformed text.
func DecodeOptional(text string) (r Rule, ok bool, err error) {
	if strings.TrimSpace(text) == "" {
		return Rule{}, false, nil
	}
	r, err = Decode(text)
	if err != nil {
		return Rule{}, false, err
	}
	return r, true, nil
}
