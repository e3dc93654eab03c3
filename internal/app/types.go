package app

import "depvault/internal/types"

type SubmitRequest struct {
	RepoURL         string
	Ref             string
	PackageManagers []types.PackageManagerInput
	Replacements    []types.ReplacementDirective
	Flags           []types.RequestFlag
}

type SubmitResult struct {
	RequestID string
	State     types.RequestState
}

type ProcessRequest struct {
	RequestID string
}

type ProcessResult struct {
	RequestID    string
	State        types.RequestState
	Packages     int
	Dependencies int
}

type SweepResult struct {
	Examined int
	Stale    int
	Failed   int
	Errors   []string
}

type StatusRequest struct {
	RequestID string
}

type StatusResult struct {
	Request types.Request
}

type ListRequest struct {
	States []types.RequestState
}

type ListResult struct {
	Requests []types.Request
}
