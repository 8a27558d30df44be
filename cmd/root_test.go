package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapexec/pkg/client"
	"swapexec/pkg/execution"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{&execution.ServiceError{StatusCode: 502, Body: "bad gateway"}, 3},
		{execution.NewError(execution.KindNoExecutableTransaction, "execute", errors.New("empty")), 4},
		{fmt.Errorf("wrapped: %w", execution.GasShortfall("send", errors.New("intrinsic gas too low"))), 5},
		{execution.NewError(execution.KindTransactionReverted, "confirm", errors.New("reverted")), 6},
		{execution.NewError(execution.KindChainRead, "read allowance", errors.New("eof")), 7},
		{fmt.Errorf("failed to confirm: %w", context.DeadlineExceeded), 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

func runRoot(t *testing.T, args ...string) int {
	t.Helper()
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = rootCmd.PersistentFlags().Set("json", "false")
	})
	return Execute()
}

func TestExecuteReturnsStatusAfterCleanup(t *testing.T) {
	var cleaned bool
	reverted := &cobra.Command{
		Use: "reverted-run",
		RunE: func(*cobra.Command, []string) error {
			defer func() { cleaned = true }()
			return &execution.Error{
				Kind:    execution.KindTransactionReverted,
				Op:      "confirm",
				Err:     errors.New("transaction reverted"),
				Receipt: &execution.Receipt{BlockNumber: 7, GasUsed: 21_000, Status: execution.ReceiptReverted},
			}
		},
	}
	rootCmd.AddCommand(reverted)
	t.Cleanup(func() { rootCmd.RemoveCommand(reverted) })

	assert.Equal(t, 6, runRoot(t, "reverted-run"))
	assert.True(t, cleaned)
}

func TestExecuteCommandErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SWAPEXEC_RPC_URL", "")
	t.Setenv("SWAPEXEC_HISTORY_FILE", "")

	assert.Equal(t, 1, runRoot(t, "status", "0x1234"))
	assert.Equal(t, 1, runRoot(t, "status", "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"))
	assert.Equal(t, 0, runRoot(t, "history", "--json"))
}

func TestParseTxHash(t *testing.T) {
	raw := "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	hash, err := parseTxHash(" " + raw + " ")
	require.NoError(t, err)
	assert.Equal(t, raw, hash.Hex())

	for _, bad := range []string{"", "0x1234", raw[2:]} {
		_, err := parseTxHash(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAllowanceArgs(t *testing.T) {
	usdc := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	router := "0xDef1C0ded9bec7F1a1670819833240f027b25EfF"

	token, spender, err := parseAllowanceArgs([]string{usdc, router})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(usdc), token)
	assert.Equal(t, common.HexToAddress(router), spender)

	_, _, err = parseAllowanceArgs([]string{"USDC", router})
	assert.ErrorContains(t, err, "invalid token address")
	_, _, err = parseAllowanceArgs([]string{usdc, "router"})
	assert.ErrorContains(t, err, "invalid spender address")
}

func TestFilterTokens(t *testing.T) {
	tokens := []client.TokenInfo{
		{Symbol: "USDC", Blockchain: "eth"},
		{Symbol: "USDC", Blockchain: "base"},
		{Symbol: "USDT", Blockchain: "eth"},
		{Symbol: "ETH", Blockchain: "eth", Address: execution.NativeToken},
	}

	assert.Len(t, filterTokens(tokens, "", ""), 4)
	assert.Len(t, filterTokens(tokens, "ETH", ""), 3)
	assert.Len(t, filterTokens(tokens, "", "usd"), 3)

	got := filterTokens(tokens, "base", "usdc")
	require.Len(t, got, 1)
	assert.Equal(t, "base", got[0].Blockchain)
}

func TestShortAddress(t *testing.T) {
	addr := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	assert.Equal(t, "0xA0b8...eB48", shortAddress(addr))
	assert.Equal(t, "", amountString(nil))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a9c1e", shortID("3f2a9c1e-0b7d-4c55-9a43-2f7c8e1d9b10"))
	assert.Equal(t, "abc", shortID("abc"))
}
