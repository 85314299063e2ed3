// Package scheduler maps reminder and poll records onto runnable jobs:
// cron entries for recurring triggers, versioned one-shot timers for
// once triggers. All cron math happens in UTC; local wall times are
// converted through the fixed clock.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clock"
	"remindbot/internal/record"
	logx "remindbot/pkg/logx"
)

// Job name prefixes; a record's job key is prefix + record id.
const (
	ReminderPrefix = "reminder:"
	PollPrefix     = "poll:"
)

// Sink receives due records. Implemented by the delivery engine.
type Sink interface {
	DeliverReminder(ctx context.Context, r record.Reminder)
	DeliverPoll(ctx context.Context, p record.Poll)
}

type Config struct {
	Workers   int
	QueueSize int

	// GraceWindow bounds how far in the past a missed one-shot trigger
	// still fires; older ones are dropped as stale.
	GraceWindow time.Duration
	// CatchupDelay is the pause before a missed one-shot fires, so
	// startup restores settle first.
	CatchupDelay time.Duration

	// JobTimeout bounds a single delivery run. 0 disables the bound.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = time.Hour
	}
	if c.CatchupDelay <= 0 {
		c.CatchupDelay = 5 * time.Second
	}
	return c
}

type task struct {
	key string
	run func(ctx context.Context)
}

type Service struct {
	cfg  Config
	clk  *clock.Clock
	sink Sink
	log  logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
	started bool

	// One-shot timers, versioned so a stale AfterFunc callback from a
	// replaced timer can be told apart from the live one.
	tmu      sync.Mutex
	timers   map[string]*time.Timer
	timerVer map[string]uint64

	pmu     sync.Mutex
	pending map[string]bool

	queue    chan task
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	baseCtx  context.Context
}

func New(cfg Config, clk *clock.Clock, sink Sink, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		clk:      clk,
		sink:     sink,
		log:      log,
		c:        cron.New(cron.WithLocation(time.UTC)),
		entries:  map[string]cron.EntryID{},
		timers:   map[string]*time.Timer{},
		timerVer: map[string]uint64{},
		pending:  map[string]bool{},
		queue:    make(chan task, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		baseCtx:  context.Background(),
	}
}

// Start launches the worker pool and the cron runner. Jobs registered
// before Start begin firing only after it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	if ctx != nil {
		s.baseCtx = ctx
	}
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.Duration("grace_window", s.cfg.GraceWindow))
	return nil
}

// Stop halts the cron runner, kills every timer, and drains workers.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	cronCtx := s.c.Stop()

	s.tmu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
		delete(s.timerVer, key)
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			s.runTask(id, t)
		}
	}
}

func (s *Service) runTask(worker int, t task) {
	defer func() {
		s.pmu.Lock()
		delete(s.pending, t.key)
		s.pmu.Unlock()
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				logx.String("job", t.key),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	ctx := s.baseCtx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Debug("job started", logx.String("job", t.key), logx.Int("worker", worker))
	t.run(ctx)
	s.log.Debug("job finished", logx.String("job", t.key), logx.Duration("took", time.Since(start)))
}

// enqueue pushes a due job to the worker pool, skipping when the same
// job is still queued or running.
func (s *Service) enqueue(key string, run func(ctx context.Context)) {
	s.pmu.Lock()
	if s.pending[key] {
		s.pmu.Unlock()
		s.log.Debug("job skipped, previous run still active", logx.String("job", key))
		return
	}
	s.pending[key] = true
	s.pmu.Unlock()

	select {
	case s.queue <- task{key: key, run: run}:
	default:
		s.pmu.Lock()
		delete(s.pending, key)
		s.pmu.Unlock()
		s.log.Warn("job dropped, queue full", logx.String("job", key))
	}
}

// JobCount reports how many live jobs (cron entries + armed timers)
// carry the given key prefix.
func (s *Service) JobCount(prefix string) int {
	n := 0
	s.mu.Lock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	s.mu.Unlock()
	s.tmu.Lock()
	for key := range s.timers {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	s.tmu.Unlock()
	return n
}

// Snapshot returns the live job keys, for health logging.
func (s *Service) Snapshot() []string {
	var keys []string
	s.mu.Lock()
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	s.tmu.Lock()
	for key := range s.timers {
		keys = append(keys, key)
	}
	s.tmu.Unlock()
	return keys
}

func jobKey(prefix, id string) string { return prefix + id }

func describeTrigger(t record.Trigger) string {
	switch x := t.(type) {
	case record.OnceAt:
		return "once " + x.At.Format(clock.DateTimeLayout)
	case record.DailyAt:
		return fmt.Sprintf("daily %02d:%02d", x.Hour, x.Minute)
	case record.WeeklyAt:
		return fmt.Sprintf("weekly %s %02d:%02d", x.Day, x.Hour, x.Minute)
	default:
		return "unknown"
	}
}
