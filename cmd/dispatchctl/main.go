// README: Operator CLI — one subcommand per cron driver plus schedule
// generation, for manual or externally-scheduled invocation
// instead of hitting the /cron/* HTTP endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orro3790/dispatch/internal/bootstrap"
	"github.com/orro3790/dispatch/internal/config"
	"github.com/orro3790/dispatch/internal/logging"
	"github.com/orro3790/dispatch/internal/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Operator CLI for the dispatch engine's cron sweeps",
	}
	root.AddCommand(
		newCronCmd("close-bid-windows", "Resolve every bid window past its closing time", func(ctx context.Context, app *bootstrap.App) map[string]int {
			return app.Cron.CloseBidWindows(ctx)
		}),
		newCronCmd("detect-no-shows", "Detect and penalize no-shows for today's shifts", func(ctx context.Context, app *bootstrap.App) map[string]int {
			return app.Cron.DetectNoShows(ctx)
		}),
		newCronCmd("send-shift-reminders", "Send reminders for today's scheduled-but-not-started shifts", func(ctx context.Context, app *bootstrap.App) map[string]int {
			return app.Cron.SendShiftReminders(ctx)
		}),
		newCronCmd("auto-drop-unconfirmed", "Cancel and reopen assignments past their confirmation deadline", func(ctx context.Context, app *bootstrap.App) map[string]int {
			return app.Cron.AutoDropUnconfirmed(ctx)
		}),
		newCronCmd("run-daily-health-evaluation", "Run the daily driver health score pass for every org", func(ctx context.Context, app *bootstrap.App) map[string]int {
			return app.Cron.RunDailyHealthEvaluation(ctx)
		}),
		newWeeklyHealthCmd(),
		newScheduleGenerateCmd(),
	)
	return root
}

func newCronCmd(use, short string, run func(ctx context.Context, app *bootstrap.App) map[string]int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(run(ctx, app))
			return nil
		},
	}
}

func newWeeklyHealthCmd() *cobra.Command {
	var weekStart string
	cmd := &cobra.Command{
		Use:   "run-weekly-health-evaluation",
		Short: "Run the weekly driver health score pass for every org",
		RunE: func(cmd *cobra.Command, args []string) error {
			if weekStart == "" {
				return fmt.Errorf("--week-start is required (YYYY-MM-DD, a Monday)")
			}
			ctx, app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(app.Cron.RunWeeklyHealthEvaluation(ctx, weekStart))
			return nil
		},
	}
	cmd.Flags().StringVar(&weekStart, "week-start", "", "Monday date (YYYY-MM-DD) of the week to evaluate")
	return cmd
}

func newScheduleGenerateCmd() *cobra.Command {
	var orgID, weekMonday string
	cmd := &cobra.Command{
		Use:   "schedule-generate",
		Short: "Generate route assignments for one organization's week",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" || weekMonday == "" {
				return fmt.Errorf("--org and --week-monday are required")
			}
			ctx, app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			result, err := app.Schedule.GenerateWeekSchedule(ctx, types.ID(orgID), weekMonday)
			if err != nil {
				return err
			}
			fmt.Printf("created=%d skipped=%d unfilled=%d errors=%d\n",
				result.Created, result.Skipped, result.Unfilled, len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  %s %s: %v\n", e.RouteID, e.Date, e.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&weekMonday, "week-monday", "", "Monday date (YYYY-MM-DD) of the week to schedule")
	return cmd
}

func setup(parent context.Context) (context.Context, *bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, _, err := logging.New(true)
	if err != nil {
		return nil, nil, err
	}
	ctx, _ := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx = logging.Into(ctx, logger)
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return ctx, app, nil
}

func printCounts(counts map[string]int) {
	for k, v := range counts {
		fmt.Printf("%s=%d\n", k, v)
	}
}
