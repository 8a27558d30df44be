package parser

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapexec/pkg/types"
)

const totalWeightBps = 10_000

// <amount> <sell> TO <buy>, tokens are symbols or addresses
var swapPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+TO\s+([A-Z0-9]+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 ETH to USDC"
//   - "1.5 WETH to DAI"
//   - "100 USDC to 0x6B175474E89094C44Da98b954EedeAC495271d0F"
func ParseSwapCommand(command string) (*types.SwapCommand, error) {
	// Normalize the command
	normalized := strings.TrimSpace(strings.ToUpper(command))
	normalized = strings.TrimPrefix(normalized, "SWAP ")

	matches := swapPattern.FindStringSubmatch(normalized)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1 ETH to USDC')")
	}

	return &types.SwapCommand{
		Amount:    matches[1],
		SellToken: restoreAddressCase(command, matches[2]),
		BuyToken:  restoreAddressCase(command, matches[3]),
	}, nil
}

// restoreAddressCase gives back the user's spelling of an address so that
// checksums survive the upper-casing.
func restoreAddressCase(command, token string) string {
	if !strings.HasPrefix(token, "0X") {
		return token
	}
	idx := strings.Index(strings.ToUpper(command), token)
	if idx < 0 {
		return token
	}
	return "0x" + command[idx+2:idx+len(token)]
}

// ValidateSwapCommand validates that a swap command has all required fields
func ValidateSwapCommand(cmd *types.SwapCommand) error {
	if cmd.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if cmd.SellToken == "" {
		return fmt.Errorf("sell token is required")
	}
	if cmd.BuyToken == "" {
		return fmt.Errorf("buy token is required")
	}
	if strings.EqualFold(cmd.SellToken, cmd.BuyToken) {
		return fmt.Errorf("sell and buy token must differ")
	}
	return nil
}

// NormalizeTokenSymbol upper-cases symbols and leaves addresses alone.
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if common.IsHexAddress(symbol) {
		return symbol
	}
	return strings.ToUpper(symbol)
}

// ParseAmount converts a human amount such as "1.5" into base units. The
// conversion is exact: more fractional digits than decimals is an error.
func ParseAmount(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units with the token's decimals.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseBaseEntries parses "token=amount,..." where amounts are base units.
func ParseBaseEntries(s string) ([]types.RebalanceEntry, error) {
	pairs, err := splitEntries(s)
	if err != nil {
		return nil, err
	}
	entries := make([]types.RebalanceEntry, 0, len(pairs))
	for _, p := range pairs {
		amount, ok := new(big.Int).SetString(p.value, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q for %s", p.value, p.token.Hex())
		}
		entries = append(entries, types.RebalanceEntry{Token: p.token, Amount: amount})
	}
	return entries, nil
}

// ParseTargetEntries parses "token=weightBps,..." and requires the weights
// to sum to 10000.
func ParseTargetEntries(s string) ([]types.RebalanceEntry, error) {
	pairs, err := splitEntries(s)
	if err != nil {
		return nil, err
	}
	entries := make([]types.RebalanceEntry, 0, len(pairs))
	var total uint64
	for _, p := range pairs {
		weight, err := strconv.ParseUint(p.value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q for %s", p.value, p.token.Hex())
		}
		total += weight
		entries = append(entries, types.RebalanceEntry{Token: p.token, WeightBps: uint32(weight)})
	}
	if total != totalWeightBps {
		return nil, fmt.Errorf("target weights sum to %d bps, expected %d", total, totalWeightBps)
	}
	return entries, nil
}

type entryPair struct {
	token common.Address
	value string
}

func splitEntries(s string) ([]entryPair, error) {
	var pairs []entryPair
	seen := make(map[common.Address]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, value, ok := strings.Cut(part, "=")
		token, value = strings.TrimSpace(token), strings.TrimSpace(value)
		if !ok || value == "" {
			return nil, fmt.Errorf("invalid entry %q, expected <token>=<value>", part)
		}
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("invalid token address: %s", token)
		}
		addr := common.HexToAddress(token)
		if seen[addr] {
			return nil, fmt.Errorf("duplicate entry for %s", addr.Hex())
		}
		seen[addr] = true
		pairs = append(pairs, entryPair{token: addr, value: value})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no entries given")
	}
	return pairs, nil
}
