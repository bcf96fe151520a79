// Package sweeper reclaims expired rooms from store backends that do not
// expire their own keys.
package sweeper

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sprintpoker/sprintpoker/internal/rooms"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = time.Minute

// Sweeper periodically invokes the room service's bulk expiry reclamation.
// For self-expiring backends each sweep is a deliberate no-op.
type Sweeper struct {
	rooms    *rooms.App
	interval time.Duration
	clock    clockwork.Clock
}

// New creates a Sweeper over the room service.
func New(app *rooms.App, interval time.Duration, clock clockwork.Clock) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{rooms: app, interval: interval, clock: clock}
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep
// failures are logged and never stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("ttl sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ttl sweeper stopped")
			return
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.rooms.RemoveExpired(ctx, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("ttl sweep failed")
		return
	}
	if removed > 0 {
		remaining := 0
		if ids, err := s.rooms.AllIDs(ctx); err == nil {
			remaining = len(ids)
		}
		log.Info().
			Int("removed", removed).
			Int("remaining", remaining).
			Str("event", "ttl_sweep").
			Msg("ttl_sweep")
	}
}
