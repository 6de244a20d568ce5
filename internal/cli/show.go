package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexora-analytics/internal/app"
	"nexora-analytics/internal/period"
)

var (
	showBank   string
	showPeriod string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a bank's KPIs and network breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showBank == "" {
			return fmt.Errorf("--bank must be provided")
		}

		opts := app.ShowOptions{
			BankID: showBank,
			Period: showPeriod,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showBank, "bank", "", "Bank identifier")
	showCmd.Flags().StringVar(&showPeriod, "period", period.Default, "Window: 7d, 30d, 90d or 1y")
}
