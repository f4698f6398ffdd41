package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calremind/internal/task/engine"
	logx "calremind/pkg/logx"
)

type Config struct {
	// Timezone evaluates cron specs (IANA name). Empty means time.Local.
	Timezone string
}

// Runner executes scheduled jobs. *engine.Service implements it.
type Runner interface {
	Enqueue(t engine.Task) error
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	entryID cron.EntryID
	// startupSpread is the random delay added to the first @every run.
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	runner Runner

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}
