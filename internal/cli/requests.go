package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"depvault/internal/app"
	"depvault/internal/types"
)

type requestsOptions struct {
	RequestID string
	States    []string
	JSON      bool
}

func newRequestsCommand() *cobra.Command {
	opts := requestsOptions{}
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Show request records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRequests(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.RequestID, "request", "", "Show a single request")
	cmd.Flags().StringSliceVar(&opts.States, "state", nil, "Filter by state, repeatable")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit full records as JSON")
	return cmd
}

func runRequests(ctx context.Context, opts requestsOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	if opts.RequestID != "" {
		result, err := service.Status(ctx, app.StatusRequest{RequestID: opts.RequestID})
		if err != nil {
			return err
		}
		return printRequests([]types.Request{result.Request}, opts.JSON)
	}
	var states []types.RequestState
	for _, state := range opts.States {
		states = append(states, types.RequestState(state))
	}
	result, err := service.List(ctx, app.ListRequest{States: states})
	if err != nil {
		return err
	}
	return printRequests(result.Requests, opts.JSON)
}

func printRequests(requests []types.Request, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(requests, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	for _, req := range requests {
		fmt.Printf("%s  %-12s  %s@%s  %s\n", req.ID, req.State, req.RepoURL, req.Ref, req.StateReason)
	}
	return nil
}
