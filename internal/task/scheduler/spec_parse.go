package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5-field and 6-field (with seconds) cron specs plus
// descriptors such as @hourly and @every.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParsedSpec is a validated schedule: either a cron expression or a fixed
// interval.
type ParsedSpec struct {
	Cron  string
	Every time.Duration
}

// Spec renders the form registered with cron.
func (p ParsedSpec) Spec() string {
	if p.Every > 0 {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

// ParseSchedule accepts "*/15 * * * *", "@hourly", "@every 15m" or a bare Go
// duration such as "15m".
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	if d, ok := everyDuration(s); ok {
		return ParsedSpec{Every: d}, nil
	}
	if strings.HasPrefix(s, "@every") {
		return ParsedSpec{}, fmt.Errorf("invalid interval in %q", raw)
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '*/15 * * * *' or a duration like '15m')", raw)
		}
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Every: d}, nil
	}
	if _, err := Parser.Parse(s); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", raw, err)
	}
	return ParsedSpec{Cron: s}, nil
}

func everyDuration(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
