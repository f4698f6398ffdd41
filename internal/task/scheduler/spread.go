package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxStartupSpread caps the random delay added to the first @every run.
const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows the wrapped schedule.
type delayedFirst struct {
	cron.Schedule
	first time.Time
}

func (s delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.Schedule.Next(t)
}

// everyWithSpread returns an interval schedule whose first run lands at
// now+every plus up to min(every, maxStartupSpread) of jitter.
func everyWithSpread(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return base, 0
	}
	jitter := rand.N(spread)
	return delayedFirst{Schedule: base, first: now.Add(every + jitter)}, jitter
}
