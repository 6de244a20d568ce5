package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nexora-analytics/internal/app"
)

var (
	rollupFrom   string
	rollupTo     string
	rollupDryRun bool
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Recompute daily aggregates for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollupFrom == "" {
			return fmt.Errorf("--from must be provided")
		}

		from, err := parseDay(rollupFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to := time.Now().UTC()
		if rollupTo != "" {
			to, err = parseDay(rollupTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.RollupOptions{
			From:   from,
			To:     to,
			DryRun: rollupDryRun,
		}

		return getApp().Rollup(cmd.Context(), opts)
	},
}

// parseDay accepts RFC3339 timestamps or plain YYYY-MM-DD dates (UTC).
func parseDay(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

func init() {
	rollupCmd.Flags().StringVar(&rollupFrom, "from", "", "Start day (YYYY-MM-DD or RFC3339, inclusive)")
	rollupCmd.Flags().StringVar(&rollupTo, "to", "", "End (YYYY-MM-DD or RFC3339, exclusive; defaults to now)")
	rollupCmd.Flags().BoolVar(&rollupDryRun, "dry-run", false, "List affected bank-days without writing")
}
