package ics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses an RFC 5545 DURATION value such as "-PT15M", "P1D",
// "-P1W" or "PT1H30M". Days and weeks are fixed 24h and 168h spans.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var (
		total   time.Duration
		inTime  bool
		num     strings.Builder
		matched bool
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
			continue
		case r == 'T':
			if inTime || num.Len() > 0 {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			inTime = true
			continue
		}
		if num.Len() == 0 {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		num.Reset()
		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q: unexpected %q", orig, r)
		}
		if n > math.MaxInt64/int64(unit) || total > time.Duration(math.MaxInt64)-time.Duration(n)*unit {
			return 0, fmt.Errorf("invalid duration %q: out of range", orig)
		}
		total += time.Duration(n) * unit
		matched = true
	}
	if num.Len() > 0 || !matched {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	return sign * total, nil
}
