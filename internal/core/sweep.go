package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"depvault/internal/ports"
	"depvault/internal/types"
)

// Sweeper expires requests whose staged views have outlived their
// usefulness and reclaims the manager-side resources. The permanent
// caches are never swept.
type Sweeper struct {
	Requests    ports.RequestStorePort
	Provisioner ports.ProvisionerPort
	Clock       ports.ClockPort
	// Lifetime is how long a terminal or in-flight request keeps its
	// staged view before being marked stale.
	Lifetime time.Duration
	// StuckThreshold is the shorter deadline after which an in_progress
	// request is presumed crashed and marked failed instead.
	StuckThreshold time.Duration
}

// SweepReport summarizes one pass for the operator.
type SweepReport struct {
	Examined int
	Stale    int
	Failed   int
	// Errors lists the requests that could not be expired this pass.
	// They stay in their current state and are retried next pass.
	Errors []error
}

// Sweep scans every non-terminal-stale request and expires the aged
// ones. Each request is handled independently; one failure never
// aborts the pass.
func (s Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{}
	requests, err := s.Requests.List(ctx,
		types.RequestStateComplete, types.RequestStateFailed, types.RequestStateInProgress)
	if err != nil {
		return report, err
	}
	now := s.Clock()
	for _, req := range requests {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Examined++
		next, ok := s.verdict(req, now)
		if !ok {
			continue
		}
		if err := s.expire(ctx, req, next, now); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		switch next {
		case types.RequestStateStale:
			report.Stale++
		case types.RequestStateFailed:
			report.Failed++
		}
	}
	return report, nil
}

// verdict decides the target state for one request, if any. In-flight
// requests stuck past the shorter threshold fail; anything older than
// the lifetime goes stale regardless of prior state.
func (s Sweeper) verdict(req types.Request, now time.Time) (types.RequestState, bool) {
	age := now.Sub(req.Updated)
	if age > s.Lifetime {
		return types.RequestStateStale, true
	}
	if req.State == types.RequestStateInProgress && age > s.StuckThreshold {
		return types.RequestStateFailed, true
	}
	return "", false
}

// expire tears down the request's staged views first; only when the
// manager-side cleanup succeeds does the state transition. A request
// that fails teardown keeps its state so a later pass retries.
func (s Sweeper) expire(ctx context.Context, req types.Request, next types.RequestState, now time.Time) error {
	for _, eco := range types.Ecosystems {
		if !s.Provisioner.NeedsStaging(eco) || !requestUses(req, eco) {
			continue
		}
		repo := types.ProvisionedRepository{
			Name:      s.Provisioner.StagedRepoName(req.ID, eco),
			Ecosystem: eco,
		}
		if err := s.Provisioner.Teardown(ctx, repo); err != nil {
			return err
		}
	}
	// The claim marker is dead weight once the request leaves the
	// in-flight pool; dropping it keeps the store free of stale locks.
	if err := s.Requests.ReleaseClaim(ctx, req.ID); err != nil {
		return err
	}
	req.State = next
	switch next {
	case types.RequestStateStale:
		req.StateReason = "the request has expired and its resources were reclaimed"
	case types.RequestStateFailed:
		req.StateReason = "lifecycle: the request was stuck in progress past the deadline"
	}
	req.Connection = nil
	req.Updated = now
	if err := s.Requests.Save(ctx, req); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("request", req.ID).
		Str("state", string(next)).
		Msg("request expired")
	return nil
}
