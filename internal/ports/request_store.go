package ports

import (
	"context"
	"time"

	"depvault/internal/types"
)

// RequestStorePort is the persisted request record store. Workers
// share no in-memory state; all coordination happens through these
// records and the repository manager.
type RequestStorePort interface {
	Create(ctx context.Context, req types.Request) error
	Get(ctx context.Context, id string) (types.Request, error)
	// Save overwrites the record. Callers other than the lifecycle
	// orchestrator must not change the state field.
	Save(ctx context.Context, req types.Request) error
	// Claim transitions not_started to in_progress exactly once. A
	// second claim of the same request is rejected, not queued.
	Claim(ctx context.Context, id string) (types.Request, error)
	// ReleaseClaim drops the claim marker. The staleness sweep calls it
	// when reclaiming an expired or stuck request. Request state is
	// untouched; releasing an unclaimed request is a no-op.
	ReleaseClaim(ctx context.Context, id string) error
	// List returns the requests currently in any of the given states,
	// or every request when no state is given.
	List(ctx context.Context, states ...types.RequestState) ([]types.Request, error)
}

// ClockPort injects time so lifecycle timestamps and staleness
// decisions are testable.
type ClockPort func() time.Time
