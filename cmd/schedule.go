package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/app"
	"github.com/JakeFAU/interpelli-crawler/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	var (
		expr string
		now  bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs harvests periodically until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if expr == "" {
				expr = appInstance.Config().Schedule.Cron
			}
			logger := appInstance.Logger().Named("schedule")
			job := func(ctx context.Context) error {
				summary, err := appInstance.Harvest(ctx, app.HarvestRequest{})
				if err != nil {
					return err
				}
				logger.Info("harvest summary",
					zap.String("run_id", summary.RunID),
					zap.String("status", summary.Status()),
					zap.Int("records_persisted", summary.RecordsPersisted),
				)
				return nil
			}
			scheduler, err := schedule.New(expr, job, logger)
			if err != nil {
				return fmt.Errorf("schedule: %w", err)
			}
			return scheduler.Run(cmd.Context(), now)
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "cron expression (default: schedule.cron)")
	cmd.Flags().BoolVar(&now, "now", false, "run one harvest immediately")
	return cmd
}
