package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "casebot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Location returns the scheduler's effective timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		return time.Local
	}
	return loc
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldTZ != newTZ {
		// restart cron with new location and re-register definitions
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.Int("workers", cur.Workers), logx.String("tz", strings.TrimSpace(cur.Timezone)))
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		// already running (no stop in progress)
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	// Fresh queue per run to avoid executing stale enqueued tasks after a stop/start toggle.
	s.queue = make(chan task, 256)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	// re-register existing defs (if any)
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}

	// Local captures prevent races if fields are swapped/nilled during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("workers", workers), logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")
	// If a stop is already in progress, just wait (best-effort).
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
	// Initiate stop.
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	// prevent new cron enqueues quickly
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	// signal workers to exit promptly
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	if c != nil {
		<-c.Stop().Done()
	}

	// finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}
