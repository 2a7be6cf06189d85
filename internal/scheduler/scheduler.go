// Package scheduler owns the four background jobs: Monitor and Notifier
// on fixed intervals, and cleanup/expire-positions on fixed local cron
// times. At most one instance of a job is ever in flight — a job state
// record with a running flag merges any missed fire into the next one,
// rather than queuing a backlog.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobFunc is a unit of scheduled work. Interval jobs receive the
// ticker's tick time; cron jobs and Trigger pass the wall-clock time at
// which they fire.
type JobFunc func(ctx context.Context, scheduledAt time.Time) error

// jobState tracks one job's running/paused/last-run bookkeeping behind
// a mutex; coalescing falls naturally out of "skip this tick if still
// running" rather than queuing ticks.
type jobState struct {
	mu      sync.Mutex
	name    string
	fn      JobFunc
	running bool
	paused  bool
	lastRun time.Time
	lastErr error
	nextRun time.Time
}

// Status is the externally-observable state of one job.
type Status struct {
	Name    string
	Running bool
	Paused  bool
	LastRun time.Time
	LastErr error
	NextRun time.Time
}

func (j *jobState) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{Name: j.name, Running: j.running, Paused: j.paused, LastRun: j.lastRun, LastErr: j.lastErr, NextRun: j.nextRun}
}

// tryRun runs fn if the job isn't paused or already in flight; a
// concurrent or overlapping fire is dropped silently (coalesced) rather
// than queued.
func (j *jobState) tryRun(ctx context.Context, scheduledAt time.Time, logger *logrus.Logger) {
	j.mu.Lock()
	if j.paused || j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.lastRun = scheduledAt
		j.mu.Unlock()
	}()

	if err := j.fn(ctx, scheduledAt); err != nil {
		j.mu.Lock()
		j.lastErr = err
		j.mu.Unlock()
		logger.WithError(err).WithField("job", j.name).Warn("scheduled job returned an error")
	}
}

// Scheduler runs the Monitor/Notifier interval jobs on time.Ticker and
// the cleanup/expire-positions jobs on robfig/cron, all sharing the
// same pause/resume/status/trigger surface.
type Scheduler struct {
	logger  *logrus.Logger
	cron    *cron.Cron
	jobs    map[string]*jobState
	tickers []*time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config names the four jobs and their cadence.
type Config struct {
	MonitorInterval  time.Duration
	NotifierInterval time.Duration
	CleanupCron      string // e.g. "0 3 * * *"
	ExpireCron       string // e.g. "0 1 * * *"
	Location         *time.Location
}

const (
	JobMonitor          = "monitor"
	JobNotifier         = "notifier"
	JobCleanup          = "cleanup"
	JobExpirePositions  = "expire_positions"
)

// New builds a Scheduler with all four jobs registered but not started.
func New(cfg Config, logger *logrus.Logger, monitorFn, notifierFn, cleanupFn, expireFn JobFunc) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithLocation(loc)),
		jobs:   make(map[string]*jobState),
		ctx:    ctx,
		cancel: cancel,
	}
	s.jobs[JobMonitor] = &jobState{name: JobMonitor, fn: monitorFn}
	s.jobs[JobNotifier] = &jobState{name: JobNotifier, fn: notifierFn}
	s.jobs[JobCleanup] = &jobState{name: JobCleanup, fn: cleanupFn}
	s.jobs[JobExpirePositions] = &jobState{name: JobExpirePositions, fn: expireFn}

	cleanupExpr := cfg.CleanupCron
	if cleanupExpr == "" {
		cleanupExpr = "0 3 * * *"
	}
	expireExpr := cfg.ExpireCron
	if expireExpr == "" {
		expireExpr = "0 1 * * *"
	}
	_, _ = s.cron.AddFunc(cleanupExpr, func() {
		s.jobs[JobCleanup].tryRun(context.Background(), time.Now().In(loc), logger)
	})
	_, _ = s.cron.AddFunc(expireExpr, func() {
		s.jobs[JobExpirePositions].tryRun(context.Background(), time.Now().In(loc), logger)
	})

	s.startTicker(JobMonitor, cfg.MonitorInterval)
	s.startTicker(JobNotifier, cfg.NotifierInterval)

	return s
}

func (s *Scheduler) startTicker(name string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	s.tickers = append(s.tickers, ticker)
	job := s.jobs[name]

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				ticker.Stop()
				return
			case t := <-ticker.C:
				job.tryRun(s.ctx, t, s.logger)
			}
		}
	}()
}

// Start begins the cron scheduler; interval tickers are already running
// once New returns.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron scheduler and all interval tickers. It does not
// wait for an in-flight job to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// Status returns the current state of every job.
func (s *Scheduler) Status() []Status {
	out := make([]Status, 0, len(s.jobs))
	for _, name := range []string{JobMonitor, JobNotifier, JobCleanup, JobExpirePositions} {
		out = append(out, s.jobs[name].status())
	}
	return out
}

// Pause prevents a job from running on its next scheduled fire(s) until Resume.
func (s *Scheduler) Pause(name string) {
	if j, ok := s.jobs[name]; ok {
		j.mu.Lock()
		j.paused = true
		j.mu.Unlock()
	}
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(name string) {
	if j, ok := s.jobs[name]; ok {
		j.mu.Lock()
		j.paused = false
		j.mu.Unlock()
	}
}

// Trigger runs a job immediately, outside its normal schedule, subject
// to the same single-instance coalescing as a regular fire.
func (s *Scheduler) Trigger(ctx context.Context, name string) {
	if j, ok := s.jobs[name]; ok {
		j.tryRun(ctx, time.Now(), s.logger)
	}
}
