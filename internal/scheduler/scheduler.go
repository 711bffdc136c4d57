// Package scheduler drives the periodic work of the engine: a short
// audit loop that enriches decisions with realized outcomes, and a
// once-a-day governance cycle that re-tunes weights, controls, and
// capital allocation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Jobs is what the scheduler needs from the engine. Both methods are
// expected to be safe for repeated invocation.
type Jobs interface {
	// Audit runs the decision-enrichment pass.
	Audit(ctx context.Context) error
	// DailyCycle runs the nightly governance pipeline.
	DailyCycle(ctx context.Context) error
}

// Config controls cadence.
type Config struct {
	AuditInterval time.Duration `yaml:"audit_interval"`
	DailyHourUTC  int           `yaml:"daily_hour_utc"`
}

// DefaultConfig matches production cadence: audits every ten minutes,
// governance at 00:00 UTC after the trading day closes.
func DefaultConfig() Config {
	return Config{
		AuditInterval: 10 * time.Minute,
		DailyHourUTC:  0,
	}
}

// RunRecord captures one job execution for the status endpoint.
type RunRecord struct {
	Job      string        `json:"job"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// Scheduler runs the audit and daily loops until its context ends.
type Scheduler struct {
	cfg  Config
	jobs Jobs

	mu      sync.Mutex
	history []RunRecord
}

func New(cfg Config, jobs Jobs) *Scheduler {
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = DefaultConfig().AuditInterval
	}
	if cfg.DailyHourUTC < 0 || cfg.DailyHourUTC > 23 {
		cfg.DailyHourUTC = 0
	}
	return &Scheduler{cfg: cfg, jobs: jobs}
}

// Run blocks until ctx is cancelled. Job errors are logged and
// recorded, never fatal: a failed audit retries on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	audit := time.NewTicker(s.cfg.AuditInterval)
	defer audit.Stop()

	daily := time.NewTimer(s.untilDaily(time.Now().UTC()))
	defer daily.Stop()

	log.Info().
		Dur("audit_interval", s.cfg.AuditInterval).
		Int("daily_hour_utc", s.cfg.DailyHourUTC).
		Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-audit.C:
			s.run(ctx, "audit", s.jobs.Audit)
		case <-daily.C:
			s.run(ctx, "daily_cycle", s.jobs.DailyCycle)
			daily.Reset(s.untilDaily(time.Now().UTC()))
		}
	}
}

// RunOnce executes both jobs immediately, in pipeline order. Used by
// the CLI for manual cycles.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.run(ctx, "audit", s.jobs.Audit)
	s.run(ctx, "daily_cycle", s.jobs.DailyCycle)
}

// History returns recent run records, newest last.
func (s *Scheduler) History() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	rec := RunRecord{Job: name, At: start, Duration: time.Since(start)}
	if err != nil {
		rec.Err = err.Error()
		log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
	} else {
		log.Info().Str("job", name).Dur("duration", rec.Duration).Msg("Scheduled job complete")
	}

	s.mu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.mu.Unlock()
}

// untilDaily computes the wait until the next daily run boundary.
func (s *Scheduler) untilDaily(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.DailyHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
