package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/models"
	"github.com/langchou/tesinvoice/internal/state"
)

// Runner 执行一次同步
type Runner interface {
	Run(ctx context.Context, period models.Period) (*models.RunResult, error)
}

// SchedulerStatus 调度器状态
type SchedulerStatus struct {
	state.RunState
	Interval string            `json:"interval"`
	NextRun  *time.Time        `json:"next_run,omitempty"`
	LastRun  *models.RunResult `json:"last_run,omitempty"`
}

// Scheduler 守护模式：按间隔同步当月发票，也可手动触发
type Scheduler struct {
	logger   *zap.Logger
	runner   Runner
	machine  *state.RunMachine
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	lastRun *models.RunResult
	nextRun *time.Time
}

// NewScheduler 创建调度器
func NewScheduler(logger *zap.Logger, runner Runner, machine *state.RunMachine, interval time.Duration) *Scheduler {
	return &Scheduler{
		logger:   logger,
		runner:   runner,
		machine:  machine,
		interval: interval,
		now:      time.Now,
	}
}

// Start 启动定时循环，立即执行一次
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Scheduler already running, skipping start")
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
}

// Stop 停止循环并等待进行中的同步结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	next := s.now().Add(s.interval)
	s.mu.Lock()
	s.nextRun = &next
	s.mu.Unlock()

	if _, err := s.TriggerNow(s.ctx, models.CurrentPeriod(s.now())); errors.Is(err, state.ErrAlreadyRunning) {
		s.logger.Info("Skipping scheduled sync, previous run still active")
	}
}

// TriggerNow 同步执行一次；已有运行时返回 state.ErrAlreadyRunning
func (s *Scheduler) TriggerNow(ctx context.Context, period models.Period) (*models.RunResult, error) {
	if err := s.machine.Begin(period.String()); err != nil {
		return nil, err
	}
	return s.execute(ctx, period)
}

// TriggerAsync 后台执行一次，立即返回
func (s *Scheduler) TriggerAsync(period models.Period) error {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.machine.Begin(period.String()); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(ctx, period)
	}()
	return nil
}

func (s *Scheduler) execute(ctx context.Context, period models.Period) (*models.RunResult, error) {
	result, err := s.runner.Run(ctx, period)

	s.mu.Lock()
	if result != nil {
		s.lastRun = result
	}
	s.mu.Unlock()

	if err != nil {
		if ferr := s.machine.Fail(err); ferr != nil {
			s.logger.Error("Failed to mark run failed", zap.Error(ferr))
		}
		return result, err
	}
	if ferr := s.machine.Finish(); ferr != nil {
		s.logger.Error("Failed to mark run finished", zap.Error(ferr))
	}
	return result, nil
}

// Status 当前状态
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SchedulerStatus{
		RunState: s.machine.Snapshot(),
		Interval: s.interval.String(),
		NextRun:  s.nextRun,
		LastRun:  s.lastRun,
	}
}
