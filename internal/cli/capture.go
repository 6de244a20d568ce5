package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nexora-analytics/internal/capture"
)

var (
	captureTx         string
	captureBank       string
	captureAmount     string
	captureNetwork    string
	captureType       string
	captureStatus     string
	captureSettlement int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the cost comparison for one transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := capture.Input{
			TransactionID: captureTx,
			BankID:        captureBank,
			NetworkUsed:   captureNetwork,
			TransferType:  captureType,
			Status:        captureStatus,
		}
		if captureAmount != "" {
			amount, err := decimal.NewFromString(captureAmount)
			if err != nil {
				return fmt.Errorf("invalid --amount value: %w", err)
			}
			in.Amount = &amount
		}
		if cmd.Flags().Changed("settlement") {
			in.SettlementSeconds = &captureSettlement
		}

		return getApp().Capture(cmd.Context(), in)
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureTx, "tx", "", "Transaction identifier")
	captureCmd.Flags().StringVar(&captureBank, "bank", "", "Bank identifier")
	captureCmd.Flags().StringVar(&captureAmount, "amount", "", "Transfer amount")
	captureCmd.Flags().StringVar(&captureNetwork, "network", "", "Settlement network (defaults to config)")
	captureCmd.Flags().StringVar(&captureType, "type", "", "Transfer type (defaults to config)")
	captureCmd.Flags().StringVar(&captureStatus, "status", "", "Transfer status (defaults to config)")
	captureCmd.Flags().IntVar(&captureSettlement, "settlement", 0, "Native settlement time in seconds (defaults to config)")
}
