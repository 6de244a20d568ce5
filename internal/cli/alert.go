package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	alertTx     string
	alertBank   string
	alertAmount float64
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a synthetic capture failure through the alert channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertAmount < 0 {
			return errors.New("--amount cannot be negative")
		}
		return getApp().TestAlert(cmd.Context(), alertTx, alertBank, decimal.NewFromFloat(alertAmount))
	},
}

func init() {
	testAlertCmd.Flags().StringVar(&alertTx, "tx", "test-transaction", "Transaction identifier to report")
	testAlertCmd.Flags().StringVar(&alertBank, "bank", "test-bank", "Bank identifier to report")
	testAlertCmd.Flags().Float64Var(&alertAmount, "amount", 1000, "Amount to report")
}
