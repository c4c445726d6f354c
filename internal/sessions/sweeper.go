package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SweepSchedule is how often idle sessions are removed.
const SweepSchedule = "@every 10m"

// StartSweeper runs Registry.Sweep on SweepSchedule until the returned cron is
// stopped.
func StartSweeper(registry *Registry, idle time.Duration, logger zerolog.Logger) (*cron.Cron, error) {
	log := logger.With().Str("component", "session_sweeper").Logger()

	c := cron.New()
	_, err := c.AddFunc(SweepSchedule, func() {
		sweepOnce(registry, idle, log)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule session sweeper: %w", err)
	}

	c.Start()
	log.Info().
		Str("schedule", SweepSchedule).
		Dur("idle_timeout", idle).
		Msg("Session sweeper started")
	return c, nil
}

func sweepOnce(registry *Registry, idle time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := registry.Sweep(ctx, idle)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep idle sessions")
		return
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Removed idle sessions")
		return
	}
	log.Debug().Msg("No idle sessions")
}
