package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexora-analytics/internal/app"
	"nexora-analytics/internal/period"
)

var (
	exportBank      string
	exportPeriod    string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a bank's daily volume trend as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportBank == "" {
			return fmt.Errorf("--bank must be provided")
		}

		opts := app.ExportOptions{
			BankID:    exportBank,
			Period:    exportPeriod,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBank, "bank", "", "Bank identifier")
	exportCmd.Flags().StringVar(&exportPeriod, "period", period.Default, "Window: 7d, 30d, 90d or 1y")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
