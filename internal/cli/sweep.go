package cli

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type sweepOptions struct {
	LifetimeHours int
	StuckHours    int
}

func newSweepCommand() *cobra.Command {
	opts := sweepOptions{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire aged requests and reclaim their staged repositories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.LifetimeHours, "lifetime-hours", 0, "Request lifetime before going stale")
	cmd.Flags().IntVar(&opts.StuckHours, "stuck-hours", 0, "In-progress deadline before failing")
	_ = viper.BindPFlag("lifetime_hours", cmd.Flags().Lookup("lifetime-hours"))
	_ = viper.BindPFlag("stuck_hours", cmd.Flags().Lookup("stuck-hours"))
	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, opts sweepOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	result, err := service.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("swept: examined=%d stale=%d failed=%d\n", result.Examined, result.Stale, result.Failed)
	if len(result.Errors) > 0 {
		for _, message := range result.Errors {
			fmt.Printf("error: %s\n", message)
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%d requests could not be expired", len(result.Errors)))
	}
	return nil
}
