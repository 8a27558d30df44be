package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/config"
	"swapexec/pkg/client"
	"swapexec/pkg/execution"
)

var (
	filterChain  string
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List tokens that can be named by symbol",
	Long: `List the EVM tokens known to the 1Click token list. Symbols shown here can
be used in swap commands when chain_name matches their blockchain.

Examples:
  swapexec list-tokens
  swapexec list-tokens --chain eth
  swapexec list-tokens --symbol USDC`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	registry := client.NewTokenRegistry(cfg.JWTToken)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}

	tokens, err := registry.List(ctx)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		return err
	}

	filtered := filterTokens(tokens, filterChain, filterSymbol)

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(filtered, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(filtered)
	}
	return nil
}

func filterTokens(tokens []client.TokenInfo, chain, symbol string) []client.TokenInfo {
	var out []client.TokenInfo
	for _, token := range tokens {
		if chain != "" && !strings.EqualFold(token.Blockchain, chain) {
			continue
		}
		if symbol != "" && !strings.Contains(strings.ToUpper(token.Symbol), strings.ToUpper(symbol)) {
			continue
		}
		out = append(out, token)
	}
	return out
}

func displayTokens(tokens []client.TokenInfo) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	color.Green("                          SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 80))

	tokensByChain := make(map[string][]client.TokenInfo)
	for _, token := range tokens {
		tokensByChain[token.Blockchain] = append(tokensByChain[token.Blockchain], token)
	}

	chains := make([]string, 0, len(tokensByChain))
	for chain := range tokensByChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 80))

		for _, token := range tokensByChain[chain] {
			address := token.Address.Hex()
			if token.Address == execution.NativeToken {
				address = "native"
			}
			fmt.Printf("  %-10s  %2d decimals  %s\n",
				color.YellowString(token.Symbol),
				token.Decimals,
				color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}
