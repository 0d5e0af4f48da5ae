// Package schedule fires the progression tick on a fixed interval using
// robfig/cron. Overlapping runs are skipped, never queued.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "drillbot/pkg/logx"
)

type Config struct {
	Interval time.Duration
	Location *time.Location
}

// Job is called on every tick with the service run context.
type Job func(ctx context.Context) error

type Service struct {
	mu  sync.Mutex
	cfg Config
	job Job
	log logx.Logger

	c       *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	lastRun time.Time
	lastErr error
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log.With(logx.String("comp", "schedule"))}
}

// Spec is the cron spec for an interval.
func Spec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	if err := s.startLocked(); err != nil {
		s.cancel()
		s.runCtx, s.cancel = nil, nil
		return err
	}
	return nil
}

func (s *Service) startLocked() error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("schedule: interval must be positive, got %s", s.cfg.Interval)
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := c.AddFunc(Spec(s.cfg.Interval), s.run)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	s.c, s.entry = c, id
	c.Start()
	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) run() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.job(ctx)
	s.mu.Lock()
	s.lastRun, s.lastErr = start, err
	s.mu.Unlock()
	if err != nil {
		s.log.Error("tick job failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("tick job finished", logx.Duration("took", time.Since(start)))
}

// Stop halts the timer and waits for a running job or ctx, whichever first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c, s.cancel, s.runCtx = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply reschedules when interval or location changed. The next tick is then
// one full interval after Apply.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	same := cfg.Interval == s.cfg.Interval && cfg.Location.String() == s.cfg.Location.String()
	s.cfg = cfg
	if s.c == nil || same {
		return nil
	}
	old := s.c
	s.c = nil
	old.Stop()
	s.log.Info("rescheduling", logx.Duration("interval", cfg.Interval))
	return s.startLocked()
}

// Next returns the next planned tick, zero if not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Last returns the start of the previous run and its error.
func (s *Service) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger routes robfig/cron logs into logx. cron's own Info chatter goes
// to debug.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
