package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"depvault/internal/app"
)

type processOptions struct {
	RequestID string
}

func newProcessCommand() *cobra.Command {
	opts := processOptions{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a submitted request to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcess(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.RequestID, "request", "", "Request ID")
	return cmd
}

func runProcess(ctx context.Context, opts processOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	result, err := service.Process(ctx, app.ProcessRequest{RequestID: opts.RequestID})
	if err != nil {
		return err
	}
	fmt.Printf("processed: %s (%s) packages=%d dependencies=%d\n",
		result.RequestID, result.State, result.Packages, result.Dependencies)
	return nil
}
