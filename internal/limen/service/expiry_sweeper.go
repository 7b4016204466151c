package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/limen/internal/logging"
)

// Sweepable is the housekeeping surface the sweeper drives.
// *RequestService implements it.
type Sweepable interface {
	ExpireDue(ctx context.Context) (int, error)
	PruneStale(ctx context.Context) (int64, error)
}

// SweeperConfig holds the parameters for NewExpirySweeper.
type SweeperConfig struct {
	// Interval between sweeps.  0 disables the sweeper.
	Interval time.Duration
}

// ExpirySweeper periodically expires grants past their ExpiresAt and prunes
// stale requests.  It runs as a background goroutine and stops via its
// context or Stop.
type ExpirySweeper struct {
	target   Sweepable
	interval time.Duration
	logger   *slog.Logger

	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewExpirySweeper creates a sweeper but does not start it.
func NewExpirySweeper(target Sweepable, cfg SweeperConfig, logger *slog.Logger) *ExpirySweeper {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExpirySweeper{
		target:   target,
		interval: cfg.Interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately, then repeats every interval until ctx
// is cancelled or Stop is called.
func (p *ExpirySweeper) Start(ctx context.Context) {
	p.started = true
	if p.interval <= 0 {
		p.logger.Info("expiry sweeper disabled", "interval", p.interval)
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("expiry sweeper started", "interval", p.interval)
}

// Stop signals the sweeper to exit and waits for it.  Safe to call more
// than once, or without Start.
func (p *ExpirySweeper) Stop() {
	if !p.started {
		return
	}
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.done
}

func (p *ExpirySweeper) loop(ctx context.Context) {
	defer close(p.done)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// Sweep runs a single expire-and-prune pass.
func (p *ExpirySweeper) Sweep(ctx context.Context) {
	p.sweep(ctx)
}

func (p *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := p.target.ExpireDue(ctx)
	if err != nil {
		p.logger.Error("expire sweep failed", "error", err)
	} else if expired > 0 {
		p.logger.Info("expire sweep", "expired", expired)
	}

	pruned, err := p.target.PruneStale(ctx)
	if err != nil {
		p.logger.Error("prune sweep failed", "error", err)
	} else if pruned > 0 {
		p.logger.Info("prune sweep", "deleted", pruned)
	}
}
