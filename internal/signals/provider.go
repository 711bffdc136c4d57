package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnavailable marks a reading that could not be fetched. Callers
// treat it as missing data and degrade, never abort.
var ErrUnavailable = errors.New("signal reading unavailable")

// Provider is any source of signal readings. Providers are treated as
// pure functions: no side effects are visible to the aggregator.
type Provider interface {
	Name() string
	GetReading(ctx context.Context, symbol string) (Reading, error)
}

// GuardedProviderConfig bounds fetch pressure on a provider.
type GuardedProviderConfig struct {
	RatePerSec       float64 // token refill rate
	Burst            int
	BreakerThreshold uint32        // consecutive failures before the breaker opens
	BreakerTimeout   time.Duration // how long the breaker stays open
}

// GuardedProvider wraps a Provider with a circuit breaker and a rate
// limiter. An open breaker or a denied token both surface as
// ErrUnavailable so the caller's missing-data path handles them.
type GuardedProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuardedProvider wraps p with fetch guards.
func NewGuardedProvider(p Provider, cfg GuardedProviderConfig) *GuardedProvider {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 8.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 16
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("signal:%s", p.Name()),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("signal provider breaker state change")
		},
	}

	return &GuardedProvider{
		inner:   p,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Name returns the wrapped provider's name.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// GetReading fetches through the rate limiter and breaker.
func (g *GuardedProvider) GetReading(ctx context.Context, symbol string) (Reading, error) {
	if !g.limiter.Allow() {
		return Reading{}, fmt.Errorf("%w: %s rate limited", ErrUnavailable, g.inner.Name())
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.GetReading(ctx, symbol)
	})
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, g.inner.Name(), err)
	}
	return out.(Reading), nil
}

// Static is a fixed-reading provider used in tests and replay.
type Static struct {
	ProviderName string
	Readings     map[string]Reading // by symbol
}

func (s *Static) Name() string { return s.ProviderName }

func (s *Static) GetReading(_ context.Context, symbol string) (Reading, error) {
	r, ok := s.Readings[symbol]
	if !ok {
		return Reading{}, fmt.Errorf("%w: no reading for %s", ErrUnavailable, symbol)
	}
	return r, nil
}
