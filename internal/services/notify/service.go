// Package notify provides an async, rate-limited pipeline for out-of-band
// channel messages (mod-channel notices, publish failure reports).
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "casebot/internal/transport"
	logx "casebot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int
}

// Service implements an async notification pipeline: queue + worker + rate limit.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []kit.Notification
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	runCtx := s.runCtx
	queue := s.queue
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(runCtx, queue)
	}()
	s.log.Debug("notifier started", logx.Int("queue_size", cap(queue)), logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	cancel := s.runCancel
	s.runCancel = nil
	s.queue = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify enqueues a notification for async delivery.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if n.Channel == "" {
		n.Channel = "discord"
	}
	if n.Options == nil {
		n.Options = &kit.SendOptions{SuppressMention: true}
	}

	s.mu.Lock()
	enabled := s.cfg.Enabled
	accepting := s.accepting
	q := s.queue
	s.mu.Unlock()

	if !enabled {
		return ErrDisabled
	}
	if !accepting || q == nil {
		return ErrStopped
	}
	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("notifier queue full; dropping", logx.String("channel_id", n.Target.ChannelID), logx.Int("priority", n.Priority))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-queue:
			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return
				}
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.adapter.SendText(sctx, n.Target, n.Text, n.Options)
	if err != nil {
		s.log.Warn("notification send failed", logx.String("channel_id", n.Target.ChannelID), logx.Any("err", err))
	} else {
		s.log.Debug("notification sent", logx.String("channel_id", n.Target.ChannelID), logx.Int("priority", n.Priority))
	}
	s.appendHistory(n)
}

func (s *Service) appendHistory(n kit.Notification) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, n)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
}
