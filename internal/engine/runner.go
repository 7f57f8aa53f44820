package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ScanFunc is one periodic scan pass.
type ScanFunc func(ctx context.Context) error

// Runner drives a scan on a fixed interval until stopped. One Runner per
// scanner (SLA monitor, refill scheduler, license checker).
type Runner struct {
	name     string
	interval time.Duration
	scan     ScanFunc
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner; Start begins scanning.
func NewRunner(name string, interval time.Duration, scan ScanFunc, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		name:     name,
		interval: interval,
		scan:     scan,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop. Scan errors are logged; the loop keeps
// running.
func (r *Runner) Start() {
	go r.loop()
	r.logger.Info("scanner started",
		zap.String("scanner", r.name),
		zap.Duration("interval", r.interval))
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("scanner stopped", zap.String("scanner", r.name))
}

func (r *Runner) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.scan(r.ctx); err != nil {
				r.logger.Error("scan pass failed",
					zap.String("scanner", r.name), zap.Error(err))
			}
		}
	}
}
