package handshake

import (
	"context"
	"time"

	"github.com/emberchat/ember-server/internal/clock"
	"github.com/emberchat/ember-server/internal/repository"
	"go.uber.org/zap"
)

// SweeperOptions tune the sweep cadence; zero values fall back to
// defaults.
type SweeperOptions struct {
	// Interval between sweeps.
	Interval time.Duration
	// PendingTTL bounds the lifetime of PENDING sessions that carry no
	// explicit deadline, measured from created_at.
	PendingTTL time.Duration
}

// Sweeper periodically expires sessions whose deadline has passed, so
// abandoned handshakes cannot hold the one-live-session slot forever.
type Sweeper struct {
	repo repository.SessionRepository
	clk  clock.Clock
	log  *zap.Logger

	interval   time.Duration
	pendingTTL time.Duration
}

// NewSweeper constructs a sweeper over the session gateway.
func NewSweeper(repo repository.SessionRepository, clk clock.Clock, log *zap.Logger, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 24 * time.Hour
	}
	return &Sweeper{
		repo:       repo,
		clk:        clk,
		log:        log,
		interval:   opts.Interval,
		pendingTTL: opts.PendingTTL,
	}
}

// Run sweeps once per interval until ctx is done. Callers run it in its
// own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	t := s.clk.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("handshake sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.repo.ExpireDue(ctx, s.clk.Now(), s.pendingTTL)
	if err != nil {
		s.log.Error("expire sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("handshake sessions expired", zap.Int64("count", n))
	}
}
