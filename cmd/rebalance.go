package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/pkg/execution"
	"swapexec/pkg/parser"
	"swapexec/pkg/types"
)

var (
	baseEntries            string
	targetEntries          string
	walletAddr             string
	maxDeviationBps        uint32
	rebalanceSlippageBps   uint32
	rebalancePriceImpact   uint32
	batchTrade             bool
	revertOnError          bool
	skipBalanceValidation  bool
	failOnMissingPricePair bool
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Rebalance a wallet towards target weights",
	Long: `Fetch a rebalance plan from the plan service and execute it as a single
batched transaction.

Base entries are token=amount pairs in base units; target entries are
token=weight pairs in basis points and must sum to 10000.

Examples:
  swapexec rebalance \
    --base 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48=1000000000 \
    --target 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48=5000,0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2=5000
  swapexec rebalance --base ... --target ... --max-deviation 200 --yes`,
	Args: cobra.NoArgs,
	RunE: runRebalance,
}

func init() {
	rootCmd.AddCommand(rebalanceCmd)

	rebalanceCmd.Flags().StringVar(&baseEntries, "base", "", "Current positions as token=amount,... (REQUIRED)")
	rebalanceCmd.Flags().StringVar(&targetEntries, "target", "", "Target weights as token=bps,... (REQUIRED)")
	rebalanceCmd.Flags().StringVar(&walletAddr, "wallet", "", "Wallet holding the positions (default: signer address)")
	rebalanceCmd.Flags().Uint32Var(&maxDeviationBps, "max-deviation", 100, "Maximum deviation from target in basis points")
	rebalanceCmd.Flags().Uint32Var(&rebalanceSlippageBps, "slippage", 100, "Maximum slippage in basis points")
	rebalanceCmd.Flags().Uint32Var(&rebalancePriceImpact, "max-price-impact", 500, "Maximum price impact in basis points")
	rebalanceCmd.Flags().BoolVar(&batchTrade, "batch", true, "Execute all trades in one transaction")
	rebalanceCmd.Flags().BoolVar(&revertOnError, "revert-on-error", true, "Revert the whole batch if one trade fails")
	rebalanceCmd.Flags().BoolVar(&skipBalanceValidation, "skip-balance-validation", false, "Ask the service not to validate balances")
	rebalanceCmd.Flags().BoolVar(&failOnMissingPricePair, "fail-on-missing-price-pair", true, "Fail when a token has no price")
	rebalanceCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")

	_ = rebalanceCmd.MarkFlagRequired("base")
	_ = rebalanceCmd.MarkFlagRequired("target")
}

func runRebalance(cmd *cobra.Command, args []string) error {
	base, err := parser.ParseBaseEntries(baseEntries)
	if err != nil {
		return fmt.Errorf("invalid --base: %w", err)
	}
	target, err := parser.ParseTargetEntries(targetEntries)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}
	if walletAddr != "" && !common.IsHexAddress(walletAddr) {
		return fmt.Errorf("invalid --wallet address: %s", walletAddr)
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

	owner := sess.signer.Address()
	wallet := owner
	if walletAddr != "" {
		wallet = common.HexToAddress(walletAddr)
	}

	req := types.RebalanceRequest{
		Signer:                 owner,
		Wallet:                 wallet,
		BaseEntries:            base,
		TargetEntries:          target,
		MaxDeviationFromTarget: maxDeviationBps,
		MaxSlippage:            rebalanceSlippageBps,
		MaxPriceImpact:         rebalancePriceImpact,
		BatchTrade:             batchTrade,
		RevertOnError:          revertOnError,
		SkipBalanceValidation:  skipBalanceValidation,
		FailOnMissingPricePair: failOnMissingPricePair,
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching rebalance plan..."
		s.Start()
	}
	plan, err := sess.quotes.RebalancePlan(ctx, req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if !jsonOutput {
		displayRebalancePlan(plan)
	}

	if execution.Expired(plan, time.Now()) {
		return fmt.Errorf("plan expired at %s, request a new one", plan.Expiry.Format(time.RFC3339))
	}

	if !noConfirm && !confirmSwap("rebalance") {
		fmt.Println("\nRebalance cancelled.")
		return nil
	}

	if !jsonOutput {
		s.Suffix = " Executing rebalance..."
		s.Start()
	}
	receipt, err := sess.engine.Execute(ctx, plan)
	if !jsonOutput {
		s.Stop()
	}
	sess.record("rebalance", fmt.Sprintf("%d trades for %s", len(plan.Trades), shortAddress(wallet)), receipt, err)
	if err != nil {
		return err
	}

	if jsonOutput {
		output := map[string]interface{}{
			"trades":  len(plan.Trades),
			"receipt": receipt,
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayReceipt(receipt)
	printSuccess(color.GreenString("Rebalance confirmed."))
	return nil
}

func displayRebalancePlan(plan *execution.RebalancePlan) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                   REBALANCE PLAN")
	fmt.Println(strings.Repeat("=", 60))

	if len(plan.Trades) == 0 {
		fmt.Println("\n  No trades needed.")
	}
	for i, trade := range plan.Trades {
		fmt.Printf("\n  Trade %d\n", i+1)
		fmt.Printf("    Sell:  %s %s\n", amountString(trade.Sell.Amount), color.YellowString(trade.Sell.Token.Hex()))
		fmt.Printf("    Buy:   ~%s %s\n", amountString(trade.Buy.Amount), color.YellowString(trade.Buy.Token.Hex()))
	}

	if len(plan.RequiredAllowances) > 0 {
		fmt.Printf("\n  Approvals to check: %d\n", len(plan.RequiredAllowances))
	}
	if to := plan.Tx.To; to != nil {
		fmt.Printf("  Executor:           %s\n", color.CyanString(to.Hex()))
	}
	if !plan.Expiry.IsZero() {
		fmt.Printf("  Expires:            %s\n", plan.Expiry.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
