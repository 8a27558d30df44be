package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/pkg/client"
	"swapexec/pkg/execution"
	"swapexec/pkg/parser"
	"swapexec/pkg/types"
)

var (
	slippageBps    uint32
	priceImpactBps uint32
	minExpirySec   uint32
	skipSimulation bool
	skipChecks     bool
	noConfirm      bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <sell-token> to <buy-token>",
	Short: "Swap one token for another",
	Long: `Fetch a single-swap plan from the quote service and execute it.

Tokens are symbols resolved through the 1Click token list on the configured
chain (chain_name), or contract addresses. Missing allowances for the swap
router are granted before the swap is sent.

Examples:
  swapexec swap 1 ETH to USDC
  swapexec swap 250 USDC to 0x6B175474E89094C44Da98b954EedeAC495271d0F --slippage 50
  swapexec swap 0.5 WETH to DAI --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().Uint32Var(&slippageBps, "slippage", 100, "Maximum slippage in basis points")
	swapCmd.Flags().Uint32Var(&priceImpactBps, "max-price-impact", 0, "Maximum price impact in basis points (0 uses the service default)")
	swapCmd.Flags().Uint32Var(&minExpirySec, "min-expiry", 0, "Minimum quote lifetime in seconds")
	swapCmd.Flags().BoolVar(&skipSimulation, "skip-simulation", false, "Ask the service not to simulate the swap")
	swapCmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Ask the service to skip balance and allowance checks")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

// resolvedToken is a token the user named, pinned to an address.
type resolvedToken struct {
	Label    string
	Address  common.Address
	Decimals uint8
}

func runSwap(cmd *cobra.Command, args []string) error {
	// Parse the command
	swapCmdArgs, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := parser.ValidateSwapCommand(swapCmdArgs); err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput && !noConfirm {
		return errors.New("--json output cannot prompt for confirmation, pass --yes")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sess, err := newSession(ctx, cmd, sessionNeeds{signer: true, quotes: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	registry := client.NewTokenRegistry(sess.cfg.JWTToken)
	sell, err := resolveToken(ctx, sess, registry, swapCmdArgs.SellToken)
	if err != nil {
		return err
	}
	buy, err := resolveToken(ctx, sess, registry, swapCmdArgs.BuyToken)
	if err != nil {
		return err
	}

	sellAmount, err := parser.ParseAmount(swapCmdArgs.Amount, sell.Decimals)
	if err != nil {
		return err
	}

	owner := sess.signer.Address()
	req := types.SwapQuoteRequest{
		SellToken:         sell.Address,
		BuyToken:          buy.Address,
		SellAmount:        sellAmount,
		Taker:             owner,
		TxOrigin:          owner,
		MaxSlippageBps:    slippageBps,
		MaxPriceImpactBps: priceImpactBps,
		MinExpirySec:      minExpirySec,
		SkipSimulation:    skipSimulation,
		SkipChecks:        skipChecks,
	}

	// Get quote with spinner
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}
	plan, err := sess.quotes.SwapPlan(ctx, req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if !jsonOutput {
		displaySwapPlan(plan, sell, buy)
	}

	if execution.Expired(plan, time.Now()) {
		return fmt.Errorf("quote expired at %s, request a new one", plan.Expiry.Format(time.RFC3339))
	}

	// Ask for confirmation
	if !noConfirm && !confirmSwap("swap") {
		fmt.Println("\nSwap cancelled.")
		return nil
	}

	if !jsonOutput {
		s.Suffix = " Executing swap..."
		s.Start()
	}
	receipt, err := sess.engine.Execute(ctx, plan)
	if !jsonOutput {
		s.Stop()
	}
	sess.record("swap", fmt.Sprintf("%s %s -> %s", swapCmdArgs.Amount, sell.Label, buy.Label), receipt, err)
	if err != nil {
		return err
	}

	if jsonOutput {
		output := map[string]interface{}{
			"sell_token":  sell.Address,
			"sell_amount": amountString(plan.SellAmount),
			"buy_token":   buy.Address,
			"buy_amount":  amountString(plan.BuyAmount),
			"receipt":     receipt,
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayReceipt(receipt)
	printSuccess(color.GreenString("Swap confirmed."))
	return nil
}

// resolveToken accepts a contract address or a symbol known to the registry.
// Decimals for bare addresses are read from the token contract.
func resolveToken(ctx context.Context, sess *session, registry *client.TokenRegistry, token string) (*resolvedToken, error) {
	if common.IsHexAddress(token) {
		addr := common.HexToAddress(token)
		decimals := uint8(18)
		if addr != execution.NativeToken {
			d, err := sess.gateway.TokenDecimals(ctx, addr)
			if err != nil {
				return nil, err
			}
			decimals = d
		}
		return &resolvedToken{Label: shortAddress(addr), Address: addr, Decimals: decimals}, nil
	}

	info, err := registry.Lookup(ctx, token, sess.cfg.ChainName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s (try: swapexec list-tokens --chain %s): %w", token, sess.cfg.ChainName, err)
	}
	return &resolvedToken{Label: info.Symbol, Address: info.Address, Decimals: info.Decimals}, nil
}

func displaySwapPlan(plan *execution.SingleSwapPlan, sell, buy *resolvedToken) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Sell:              %s %s\n", parser.FormatAmount(plan.SellAmount, sell.Decimals), color.YellowString(sell.Label))
	fmt.Printf("  Buy:               ~%s %s\n", parser.FormatAmount(plan.BuyAmount, buy.Decimals), color.YellowString(buy.Label))
	if plan.MinBuyAmount != nil {
		fmt.Printf("  Minimum Received:  %s %s\n", parser.FormatAmount(plan.MinBuyAmount, buy.Decimals), buy.Label)
	}
	if to := plan.Tx.To; to != nil {
		fmt.Printf("  Router:            %s\n", color.CyanString(to.Hex()))
	}
	if plan.Allowance != nil {
		fmt.Printf("  Approval Needed:   %s for %s\n", sell.Label, color.CyanString(plan.Allowance.Spender.Hex()))
	}
	if plan.QuotedGas > 0 {
		fmt.Printf("  Quoted Gas:        %d\n", plan.QuotedGas)
	}
	if !plan.Expiry.IsZero() {
		fmt.Printf("  Expires:           %s\n", plan.Expiry.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayReceipt(receipt *execution.Receipt) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                   TRANSACTION MINED")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Hash:              %s\n", color.CyanString(receipt.TxHash.Hex()))
	fmt.Printf("  Block:             %d\n", receipt.BlockNumber)
	fmt.Printf("  Gas Used:          %d\n", receipt.GasUsed)
	fmt.Printf("  Status:            %s\n", coloredReceiptStatus(receipt.Status))

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func coloredReceiptStatus(status execution.ReceiptStatus) string {
	label := strings.ToUpper(string(status))
	switch status {
	case execution.ReceiptSuccess:
		return color.GreenString(label)
	case execution.ReceiptReverted:
		return color.RedString(label)
	default:
		return label
	}
}

func confirmSwap(action string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\nProceed with %s? (y/N): ", action)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
