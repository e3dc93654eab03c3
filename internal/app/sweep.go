package app

import (
	"context"
	"time"

	"depvault/internal/core"
)

const defaultLifetimeHours = 24 * 14
const defaultStuckHours = 24

// Sweep runs one staleness pass over the request store. A non-empty
// Errors slice means some requests could not be expired and will be
// retried on the next pass; callers should report that as a failure.
func (s Service) Sweep(ctx context.Context) (SweepResult, error) {
	lifetime := s.Config.LifetimeHours
	if lifetime <= 0 {
		lifetime = defaultLifetimeHours
	}
	stuck := s.Config.StuckHours
	if stuck <= 0 {
		stuck = defaultStuckHours
	}
	sweeper := core.Sweeper{
		Requests:       s.Requests,
		Provisioner:    s.Provisioner,
		Clock:          s.Clock,
		Lifetime:       time.Duration(lifetime) * time.Hour,
		StuckThreshold: time.Duration(stuck) * time.Hour,
	}
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{
		Examined: report.Examined,
		Stale:    report.Stale,
		Failed:   report.Failed,
	}
	for _, sweepErr := range report.Errors {
		result.Errors = append(result.Errors, sweepErr.Error())
	}
	return result, nil
}
