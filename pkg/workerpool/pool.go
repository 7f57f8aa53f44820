// Package workerpool provides a bounded worker pool. The notification
// dispatcher drains its outbound queue through one, so a slow downstream
// publisher can never stall the transactional core.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work.
type Task struct {
	ID      string
	Payload interface{}
}

// Result is the outcome of processing a task.
type Result struct {
	TaskID  string
	Success bool
	Error   error
}

// WorkerFunc processes a single task.
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds pool sizing and retry behavior.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize bounds the task queue; Submit fails when it is full.
	QueueSize int
	// MaxRetries is how many times a failed task is retried.
	MaxRetries int
	// RetryDelay is the base delay between retries, scaled linearly per
	// attempt.
	RetryDelay time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight tasks.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for notification delivery.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		QueueSize:       1024,
		MaxRetries:      3,
		RetryDelay:      200 * time.Millisecond,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Pool runs tasks across a fixed set of workers.
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks chan *Task
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	dropped   int64
}

// New creates a pool. The worker function is required.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: cfg,
		fn:     fn,
		logger: logger,
		tasks:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a task without blocking. A full queue drops the task and
// returns an error the caller may log.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return fmt.Errorf("task queue is full")
	}
}

// Stop drains queued tasks and shuts the pool down.
func (p *Pool) Stop() {
	p.cancel()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.process(id, task)
	}
}

func (p *Pool) process(workerID int, task *Task) {
	var result *Result
	for attempt := 0; ; attempt++ {
		result = p.fn(p.ctx, task)
		if result.Success {
			atomic.AddInt64(&p.completed, 1)
			return
		}
		if attempt >= p.config.MaxRetries || p.ctx.Err() != nil {
			break
		}
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Error))
		time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
	}

	atomic.AddInt64(&p.failed, 1)
	p.logger.Error("task failed",
		zap.String("task_id", task.ID),
		zap.Int("worker_id", workerID),
		zap.Error(result.Error))
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Dropped   int64
	QueueLen  int
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Dropped:   atomic.LoadInt64(&p.dropped),
		QueueLen:  len(p.tasks),
	}
}
