package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "casebot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Europe/Dublin"
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap OverlapPolicy
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	opt     TaskOptions
	state   *runState
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	opt     TaskOptions
	state   *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	hmu       sync.Mutex
	history   []HistoryItem
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	QueueLen  int
	Schedules []ScheduleInfo
	History   []HistoryItem
}
