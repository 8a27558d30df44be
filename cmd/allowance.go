package cmd

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/pkg/execution"
)

var (
	ownerAddr     string
	approveAmount string
)

var allowanceCmd = &cobra.Command{
	Use:   "allowance <token> <spender>",
	Short: "Show or grant a token allowance",
	Long: `Show how much of a token the spender may move on behalf of the owner.

With --approve, an approval is sent when the current allowance is below the
given amount (base units). The approval size follows approve_exact.

Examples:
  swapexec allowance 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 0xDef1C0ded9bec7F1a1670819833240f027b25EfF
  swapexec allowance 0xA0b8... 0xDef1... --owner 0x1234...
  swapexec allowance 0xA0b8... 0xDef1... --approve 1000000000 --yes`,
	Args: cobra.ExactArgs(2),
	RunE: runAllowance,
}

func init() {
	rootCmd.AddCommand(allowanceCmd)

	allowanceCmd.Flags().StringVar(&ownerAddr, "owner", "", "Token owner (default: signer address)")
	allowanceCmd.Flags().StringVar(&approveAmount, "approve", "", "Ensure at least this allowance, in base units")
	allowanceCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runAllowance(cmd *cobra.Command, args []string) error {
	token, spender, err := parseAllowanceArgs(args)
	if err != nil {
		return err
	}

	var needed *big.Int
	if approveAmount != "" {
		v, ok := math.ParseBig256(approveAmount)
		if !ok || v.Sign() <= 0 {
			return fmt.Errorf("invalid --approve amount: %s", approveAmount)
		}
		needed = v
		if ownerAddr != "" {
			return fmt.Errorf("--owner cannot be combined with --approve, approvals are sent from the signer")
		}
	}
	if ownerAddr != "" && !common.IsHexAddress(ownerAddr) {
		return fmt.Errorf("invalid --owner address: %s", ownerAddr)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if needed != nil && jsonOutput && !noConfirm {
		return fmt.Errorf("--json output cannot prompt for confirmation, pass --yes")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sess, err := newSession(ctx, cmd, sessionNeeds{signer: ownerAddr == ""})
	if err != nil {
		return err
	}
	defer sess.Close()

	owner := common.HexToAddress(ownerAddr)
	if sess.signer != nil {
		owner = sess.signer.Address()
	}

	current, err := sess.gateway.Allowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}

	approved := 0
	if needed != nil && current.Cmp(needed) < 0 {
		if !jsonOutput {
			displayAllowance(token, owner, spender, current)
		}
		if !noConfirm && !confirmSwap("approval") {
			fmt.Println("\nApproval cancelled.")
			return nil
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if !jsonOutput {
			s.Suffix = " Sending approval..."
			s.Start()
		}
		approved, err = sess.engine.Reconcile(ctx, []execution.AllowanceRequirement{{
			Token:        token,
			Spender:      spender,
			NeededAmount: needed,
		}})
		if !jsonOutput {
			s.Stop()
		}
		sess.record("approval", fmt.Sprintf("%s for %s", shortAddress(token), shortAddress(spender)), nil, err)
		if err != nil {
			return err
		}

		current, err = sess.gateway.Allowance(ctx, token, owner, spender)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		output := map[string]interface{}{
			"token":     token,
			"owner":     owner,
			"spender":   spender,
			"allowance": current.String(),
			"approved":  approved > 0,
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	displayAllowance(token, owner, spender, current)
	if approved > 0 {
		printSuccess(color.GreenString("Approval confirmed."))
	}
	return nil
}

func parseAllowanceArgs(args []string) (token, spender common.Address, err error) {
	if !common.IsHexAddress(args[0]) {
		return token, spender, fmt.Errorf("invalid token address: %s", args[0])
	}
	if !common.IsHexAddress(args[1]) {
		return token, spender, fmt.Errorf("invalid spender address: %s", args[1])
	}
	return common.HexToAddress(args[0]), common.HexToAddress(args[1]), nil
}

func displayAllowance(token, owner, spender common.Address, amount *big.Int) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     ALLOWANCE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Token:      %s\n", color.YellowString(token.Hex()))
	fmt.Printf("  Owner:      %s\n", owner.Hex())
	fmt.Printf("  Spender:    %s\n", color.CyanString(spender.Hex()))
	if amount.Cmp(math.MaxBig256) == 0 {
		fmt.Printf("  Allowance:  %s\n", color.GreenString("unlimited"))
	} else {
		fmt.Printf("  Allowance:  %s\n", amount)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
