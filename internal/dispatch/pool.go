package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCoreWorkers  = 5
	defaultMaxWorkers   = 20
	defaultQueueSize    = 100
	defaultIdleTimeout  = 60 * time.Second
	defaultShutdownWait = 30 * time.Second
)

var (
	// ErrQueueFull is returned when the backlog is at capacity and no
	// additional worker can be started.
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrPoolClosed is returned once shutdown has begun.
	ErrPoolClosed = errors.New("dispatch pool is closed")
)

// Task is one unit of asynchronous work. The context is canceled when the
// shutdown grace period expires.
type Task func(ctx context.Context)

// PoolConfig sizes the executor. Zero values fall back to the defaults:
// 5 steady-state workers bursting to 20, a backlog of 100 beyond which
// submissions are rejected, and 60s idle reclaim for burst workers.
type PoolConfig struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Pool is a bounded in-process worker pool. Work is accepted only up to the
// backlog capacity; beyond that Submit fails fast so callers can fall back
// to the reconciliation path instead of blocking intake.
type Pool struct {
	tasks  chan Task
	logger *zap.Logger

	coreWorkers int
	maxWorkers  int
	idleTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	workers int
	closed  bool
	wg      sync.WaitGroup
}

func NewPool(cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = defaultCoreWorkers
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		return nil, fmt.Errorf("max workers (%d) must be >= core workers (%d)", cfg.MaxWorkers, cfg.CoreWorkers)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		tasks:       make(chan Task, cfg.QueueSize),
		logger:      logger,
		coreWorkers: cfg.CoreWorkers,
		maxWorkers:  cfg.MaxWorkers,
		idleTimeout: cfg.IdleTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// Submit enqueues a task for asynchronous execution. It never blocks: a full
// backlog returns ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
	default:
		return ErrQueueFull
	}

	// Scale up: keep the core pool warm, and add burst workers while there
	// is a backlog.
	if p.workers < p.coreWorkers {
		p.startWorkerLocked(false)
	} else if len(p.tasks) > 0 && p.workers < p.maxWorkers {
		p.startWorkerLocked(true)
	}

	return nil
}

// Shutdown stops accepting work and waits up to gracePeriod for in-flight
// and queued tasks to finish, then cancels whatever is still running.
func (p *Pool) Shutdown(gracePeriod time.Duration) {
	if gracePeriod <= 0 {
		gracePeriod = defaultShutdownWait
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		p.logger.Warn("dispatch pool shutdown grace period expired, canceling in-flight work",
			zap.Duration("gracePeriod", gracePeriod),
		)
	}

	p.cancel()
}

func (p *Pool) startWorkerLocked(expirable bool) {
	p.workers++
	p.wg.Add(1)

	go func() {
		defer func() {
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			p.wg.Done()
		}()

		p.workerLoop(expirable)
	}()
}

func (p *Pool) workerLoop(expirable bool) {
	for {
		if !expirable {
			task, ok := <-p.tasks
			if !ok {
				return
			}
			p.runTask(task)
			continue
		}

		idle := time.NewTimer(p.idleTimeout)
		select {
		case task, ok := <-p.tasks:
			idle.Stop()
			if !ok {
				return
			}
			p.runTask(task)
		case <-idle.C:
			// Burst worker reclaimed after sitting idle.
			return
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch task panicked", zap.Any("panic", r))
		}
	}()

	task(p.baseCtx)
}
