package session

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/channel"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// StartWithBackoff calls s.Start until it succeeds, ctx ends or maxAttempts
// (0 = unlimited) is reached. It returns the last start error.
func StartWithBackoff(ctx context.Context, s *Session, ep channel.Endpoint, cfg BackoffConfig, maxAttempts int, rng *rand.Rand) error {
	var err error
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		if err = s.Start(ep); err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt == maxAttempts {
			break
		}
		delay := NextBackoffDelay(cfg, attempt, rng)
		logStartRetry(ep, attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
