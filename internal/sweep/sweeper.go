// Package sweep runs the periodic maintenance pass: overdue checkout
// release and expired grant cleanup.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the subset of the lifecycle engine the sweeper drives.
type Engine interface {
	ReleaseOverdueCheckouts(ctx context.Context) (int, error)
	CleanupExpiredGrants(ctx context.Context) (int, error)
}

type Sweeper struct {
	engine   Engine
	interval time.Duration
	log      zerolog.Logger
}

func New(engine Engine, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps immediately, then on every tick until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	released, err := s.engine.ReleaseOverdueCheckouts(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("release overdue checkouts")
	}
	if released > 0 {
		s.log.Info().Int("released", released).Msg("released overdue checkouts")
	}

	expired, err := s.engine.CleanupExpiredGrants(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("cleanup expired grants")
	}
	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("retired expired grants")
	}
}
