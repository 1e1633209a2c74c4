package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"unibot/internal/eventbus"
	logx "unibot/pkg/logx"
)

// Bus event types.
const (
	EventRun     = "task.run"
	EventSkipped = "task.skipped"
)

type Config struct {
	Timezone       string        // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	DefaultTimeout time.Duration // used when a job is added with timeout 0
	HistorySize    int
}

const (
	defaultTimeout     = 30 * time.Second
	defaultHistorySize = 32
)

type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
	skipped atomic.Uint64
}

// HistoryItem records one finished run.
type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Spread  time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Started   bool
	Timezone  string
	Skipped   uint64
	Schedules []ScheduleInfo
	History   []HistoryItem
}
