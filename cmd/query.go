package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/report"
)

func newQueryCmd() *cobra.Command {
	var (
		class    string
		minHours int
		classes  bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Lists stored notices",
		Long: `Prints stored notices grouped by region. Filter by competition class or by
a minimum number of weekly hours, but not both. --classes lists the distinct
competition classes instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			store := appInstance.Notices()

			if classes {
				codes, err := store.DistinctClasses(ctx)
				if err != nil {
					return fmt.Errorf("list classes: %w", err)
				}
				return report.Classes(out, codes)
			}

			var filter crawler.Filter
			if class != "" {
				filter.ClassCode = strings.ToUpper(strings.TrimSpace(class))
			}
			if cmd.Flags().Changed("min-hours") {
				if minHours < 0 {
					return fmt.Errorf("--min-hours must not be negative")
				}
				filter.MinHours = &minHours
			}

			var records []crawler.Record
			if filter == (crawler.Filter{}) {
				records, err = store.QueryAll(ctx)
			} else {
				if verr := filter.Validate(); verr != nil {
					return fmt.Errorf("use either --class or --min-hours: %w", verr)
				}
				records, err = store.QueryBy(ctx, filter)
			}
			if err != nil {
				return fmt.Errorf("query notices: %w", err)
			}
			return report.Render(out, records)
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "competition class code, e.g. A028")
	cmd.Flags().IntVar(&minHours, "min-hours", 0, "minimum weekly hours")
	cmd.Flags().BoolVar(&classes, "classes", false, "list distinct competition classes")
	return cmd
}
