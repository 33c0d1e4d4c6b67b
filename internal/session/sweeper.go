package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/metrics"
)

// DefaultSweepInterval is how often expired sessions are removed.
const DefaultSweepInterval = time.Minute

// sweepTimeout bounds a single sweep against a slow backend.
const sweepTimeout = 30 * time.Second

// Sweeper periodically removes expired sessions from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Store    Store
	Interval time.Duration // defaults to DefaultSweepInterval; cron rounds below 1s up
	Logger   zerolog.Logger
}

// NewSweeper creates a Sweeper. Call Start to schedule it.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: sweeper: store is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: opts.Store, interval: interval, log: opts.Logger}, nil
}

// Start schedules the sweep. Starting a running sweeper is an error.
func (sw *Sweeper) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.running {
		return fmt.Errorf("session: sweeper already running")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+sw.interval.String(), sw.tick); err != nil {
		return fmt.Errorf("session: schedule sweeper: %w", err)
	}
	c.Start()
	sw.cron = c
	sw.running = true
	sw.log.Info().Dur("interval", sw.interval).Msg("session sweeper started")
	return nil
}

// Stop unschedules the sweep and waits for an in-flight sweep to finish or
// ctx to be done. Stopping a stopped sweeper is a no-op.
func (sw *Sweeper) Stop(ctx context.Context) error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return nil
	}
	done := sw.cron.Stop()
	sw.running = false
	sw.mu.Unlock()

	select {
	case <-done.Done():
		sw.log.Info().Msg("session sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: stop sweeper: %w", ctx.Err())
	}
}

// RunOnce sweeps immediately and records the result.
func (sw *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := sw.store.Sweep(ctx)
	if err != nil {
		return removed, fmt.Errorf("session: sweep: %w", err)
	}
	remaining, err := sw.store.Len(ctx)
	if err != nil {
		return removed, fmt.Errorf("session: sweep: %w", err)
	}
	metrics.RecordSweep(removed, remaining)
	if removed > 0 {
		sw.log.Debug().Int("removed", removed).Int("remaining", remaining).Msg("expired sessions swept")
	}
	return removed, nil
}

func (sw *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := sw.RunOnce(ctx); err != nil {
		sw.log.Error().Err(err).Msg("session sweep failed")
	}
}
