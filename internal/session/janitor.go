package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper evicts idle sessions.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	Interval time.Duration // Sweep interval (default: 10m)
}

// DefaultJanitorConfig returns sensible defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval: 10 * time.Minute,
	}
}

// Janitor periodically sweeps idle sessions.
type Janitor struct {
	cfg     JanitorConfig
	sweeper Sweeper
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a new Janitor.
func NewJanitor(cfg JanitorConfig, sweeper Sweeper, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:     cfg,
		sweeper: sweeper,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins the sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.run()

	j.logger.Info("session janitor started", "interval", j.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("session janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	start := time.Now()
	evicted := j.sweeper.Sweep(j.ctx, j.now())

	if evicted > 0 {
		j.logger.Info("janitor sweep complete", "evicted", evicted, "duration", time.Since(start))
	} else {
		j.logger.Debug("janitor sweep complete", "evicted", 0)
	}
}
