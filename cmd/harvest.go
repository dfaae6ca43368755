package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/app"
	"github.com/JakeFAU/interpelli-crawler/internal/report"
)

func newHarvestCmd() *cobra.Command {
	var req app.HarvestRequest
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest over the selected regions",
		Long: `Scans the listing pages of every selected region, processes each notice
found and stores the extracted vacancies. Interrupting the command stops new
work from starting; notices already extracted are still stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Harvest(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("harvest: %w", err)
			}
			if summary.Interrupted {
				appInstance.Logger().Warn("harvest interrupted", zap.String("run_id", summary.RunID))
			}
			return report.Summary(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringSliceVar(&req.Regions, "regions", nil, "region names to harvest (default: harvest.regions, or all)")
	cmd.Flags().IntVar(&req.MaxPages, "max-pages", 0, "listing pages to scan per region (default: harvest.max_pages)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "extract without storing, marking or publishing")
	return cmd
}
