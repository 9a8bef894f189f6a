package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultHousekeepingInterval = time.Hour

// housekeepingTask is one independent cleanup step.
type housekeepingTask struct {
	name string
	run  func(ctx context.Context) (int, error)
}

// HousekeepingService periodically drops expired refresh tokens, revocation entries
// and rate limit state.
type HousekeepingService struct {
	tasks    []housekeepingTask
	interval time.Duration
	logger   *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewHousekeepingService wires the cleanup steps. A non-positive interval defaults to one hour.
func NewHousekeepingService(
	refreshTokens *RefreshTokenService,
	tokens *TokenService,
	limiter *LoginRateLimiter,
	interval time.Duration,
	logger *zap.Logger,
) *HousekeepingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultHousekeepingInterval
	}

	var tasks []housekeepingTask
	if refreshTokens != nil {
		tasks = append(tasks, housekeepingTask{name: "refresh_tokens", run: refreshTokens.Cleanup})
	}
	if tokens != nil {
		tasks = append(tasks, housekeepingTask{name: "revoked_access_tokens", run: tokens.Purge})
	}
	if limiter != nil {
		tasks = append(tasks, housekeepingTask{name: "rate_limit", run: limiter.Purge})
	}

	return &HousekeepingService{
		tasks:    tasks,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval until Stop.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.logger.Info("housekeeping service started", zap.Duration("interval", s.interval))
}

// Stop waits for any in-progress pass to finish. It is a no-op before Start.
func (s *HousekeepingService) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce executes every cleanup step; a failing step does not stop the others.
// It returns the number of steps that succeeded.
func (s *HousekeepingService) RunOnce(ctx context.Context) int {
	succeeded := 0
	for _, task := range s.tasks {
		removed, err := task.run(ctx)
		if err != nil {
			s.logger.Error("housekeeping step failed", zap.String("step", task.name), zap.Error(err))
			continue
		}
		succeeded++
		s.logger.Debug("housekeeping step completed", zap.String("step", task.name), zap.Int("removed", removed))
	}

	s.logger.Info("housekeeping pass completed", zap.Int("successful_steps", succeeded), zap.Int("steps", len(s.tasks)))
	return succeeded
}
