package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "casebot/pkg/logx"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping task", logx.String("task", t.name))
		return
	}
	select {
	case q <- t:
		// ok
	default:
		s.log.Warn("scheduler queue full; dropping task", logx.String("task", t.name), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()

	// Mark running for overlap control (shared state between cron invocations).
	if t.state != nil {
		t.state.mu.Lock()
		t.state.running = true
		t.state.mu.Unlock()
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	runCtx := ctx
	var cancel func()
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	err := t.run(runCtx)
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{
		ID:       t.id,
		Name:     t.name,
		Started:  start,
		Duration: dur,
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", t.name), logx.Any("err", err), logx.Duration("dur", dur))
	} else if dur >= 750*time.Millisecond {
		// Only elevate to INFO when it took noticeable time.
		s.log.Info("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	}

	// Copy scheduler config to avoid data races with Apply().
	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	// A zero/negative history_size would mean unbounded growth on a
	// long-running bot, so default to a sensible cap.
	if historySize <= 0 {
		historySize = 200
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
