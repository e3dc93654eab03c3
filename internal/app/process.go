package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Process drives one submitted request to a terminal state. The
// underlying claim is exclusive: a second concurrent call for the
// same request is rejected rather than queued.
func (s Service) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return ProcessResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request id is required")
	}
	processErr := s.orchestrator().Process(ctx, req.RequestID)
	record, err := s.Requests.Get(ctx, req.RequestID)
	if err != nil {
		if processErr != nil {
			return ProcessResult{}, processErr
		}
		return ProcessResult{}, err
	}
	result := ProcessResult{
		RequestID:    record.ID,
		State:        record.State,
		Packages:     len(record.Packages),
		Dependencies: len(record.Dependencies),
	}
	return result, processErr
}
