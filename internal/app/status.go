package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

func (s Service) Status(ctx context.Context, req StatusRequest) (StatusResult, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return StatusResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request id is required")
	}
	record, err := s.Requests.Get(ctx, req.RequestID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Request: record}, nil
}

func (s Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	records, err := s.Requests.List(ctx, req.States...)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Requests: records}, nil
}
