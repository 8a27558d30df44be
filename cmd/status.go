package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/pkg/chain"
	"swapexec/pkg/execution"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the status of a transaction",
	Long: `Look up a swap, rebalance or approval transaction by hash and show whether
it is pending, mined or reverted.

Examples:
  swapexec status 0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060
  swapexec status 0x5c50... --watch
  swapexec status 0x5c50... --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Keep polling until the transaction is mined")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	hash, err := parseTxHash(args[0])
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sess, err := newSession(ctx, cmd, sessionNeeds{})
	if err != nil {
		return err
	}
	defer sess.Close()

	if watchStatus {
		if jsonOutput {
			return fmt.Errorf("watch mode not supported with JSON output")
		}
		watchTxStatus(ctx, sess.gateway, hash)
		return nil
	}
	return checkTxStatus(ctx, sess.gateway, hash, jsonOutput)
}

func parseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("invalid transaction hash: %s", s)
	}
	return common.HexToHash(s), nil
}

func checkTxStatus(ctx context.Context, gateway *chain.EthGateway, hash common.Hash, jsonOutput bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	info, err := gateway.TransactionInfo(ctx, hash)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		return err
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTxStatus(info)
	}
	return nil
}

func watchTxStatus(ctx context.Context, gateway *chain.EthGateway, hash common.Hash) {
	fmt.Printf("\nWatching transaction %s\n", color.CyanString(hash.Hex()))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		info, err := gateway.TransactionInfo(ctx, hash)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayTxStatus(info)
			if !info.Pending {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func displayTxStatus(info *chain.TransactionInfo) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Hash:       %s\n", color.CyanString(info.Hash.Hex()))
	fmt.Printf("  Status:     %s\n", txStatusLabel(info))
	if info.To != nil {
		fmt.Printf("  To:         %s\n", info.To.Hex())
	}
	fmt.Printf("  Nonce:      %d\n", info.Nonce)
	fmt.Printf("  Gas Limit:  %d\n", info.GasLimit)
	if info.GasPrice != nil {
		fmt.Printf("  Gas Price:  %s wei\n", info.GasPrice)
	}
	if info.Value != nil && info.Value.Sign() > 0 {
		fmt.Printf("  Value:      %s wei\n", info.Value)
	}
	if r := info.Receipt; r != nil {
		fmt.Printf("  Block:      %d\n", r.BlockNumber)
		fmt.Printf("  Gas Used:   %d\n", r.GasUsed)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func txStatusLabel(info *chain.TransactionInfo) string {
	if info.Pending || info.Receipt == nil {
		return color.YellowString("PENDING")
	}
	if info.Receipt.Status == execution.ReceiptSuccess {
		return color.GreenString("SUCCESS")
	}
	return color.RedString("REVERTED")
}
