// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Bounded worker pool serving queue deliveries

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony-level/cmdproxy/internal/queue"
)

// DefaultPoolSize bounds concurrent runs when no size is configured
const DefaultPoolSize = 4

// DefaultDrainTimeout is how long in-flight runs may keep going after
// shutdown begins before their contexts are cancelled
const DefaultDrainTimeout = 30 * time.Second

// PoolConfig configures a worker pool
type PoolConfig struct {
	Size         int
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Pool hosts a fixed number of workers executing queue deliveries. The
// pool size bounds how many subprocesses and staging operations the
// worker process runs at once.
type Pool struct {
	engine   *Engine
	consumer queue.Consumer
	size     int
	drain    time.Duration
	logger   *slog.Logger
}

// NewPool creates a pool over an engine and a queue consumer
func NewPool(e *Engine, consumer queue.Consumer, config *PoolConfig) *Pool {
	if config == nil {
		config = &PoolConfig{}
	}
	size := config.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	drain := config.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{engine: e, consumer: consumer, size: size, drain: drain, logger: logger}
}

// Serve consumes the given subjects until ctx is cancelled and blocks
// until every in-flight run has finished. Shutdown is graceful: runs
// started before cancellation keep a detached context so they can
// finish staging out, and are cancelled only once the drain timeout
// elapses.
func (p *Pool) Serve(ctx context.Context, subjects []string) error {
	deliveries, err := p.consumer.Consume(ctx, subjects)
	if err != nil {
		return err
	}
	p.logger.Info("worker pool started", "workers", p.size, "subjects", subjects)

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(runCtx, deliveries)
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	go func() {
		select {
		case <-finished:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(p.drain)
		defer timer.Stop()
		select {
		case <-finished:
		case <-timer.C:
			p.logger.Warn("drain timeout elapsed, cancelling in-flight runs", "timeout", p.drain)
			cancelRuns()
		}
	}()

	<-finished
	p.logger.Info("worker pool stopped")
	return nil
}

// work executes deliveries until the delivery channel closes
func (p *Pool) work(ctx context.Context, deliveries <-chan queue.Delivery) {
	for d := range deliveries {
		res := p.engine.Run(ctx, d.Request)
		if err := p.consumer.Respond(d, res); err != nil {
			p.logger.Error("failed to respond", "subject", d.Subject, "error", err)
		}
	}
}
