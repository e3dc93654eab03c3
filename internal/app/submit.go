package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"

	"depvault/internal/types"
)

// Submit records a new request in not_started. Validation happens
// here, before anything is persisted; processing is a separate step.
func (s Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return SubmitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("repository url is required")
	}
	if strings.TrimSpace(req.Ref) == "" {
		return SubmitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("repository ref is required")
	}
	if len(req.PackageManagers) == 0 {
		return SubmitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one package manager is required")
	}
	for _, pm := range req.PackageManagers {
		if !pm.Type.Valid() {
			return SubmitResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unsupported package manager: %s", pm.Type))
		}
	}
	for _, directive := range req.Replacements {
		if !directive.Type.Valid() {
			return SubmitResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unsupported replacement ecosystem: %s", directive.Type))
		}
		if directive.Name == "" || directive.Version == "" {
			return SubmitResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("replacement directives require a name and a version")
		}
	}

	now := s.Clock()
	record := types.Request{
		ID:              uuid.NewString(),
		RepoURL:         req.RepoURL,
		Ref:             req.Ref,
		PackageManagers: req.PackageManagers,
		Replacements:    req.Replacements,
		Flags:           req.Flags,
		State:           types.RequestStateNotStarted,
		StateReason:     "the request was initiated",
		Created:         now,
		Updated:         now,
	}
	if err := s.Requests.Create(ctx, record); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{RequestID: record.ID, State: record.State}, nil
}
