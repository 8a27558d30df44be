package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapexec/pkg/execution"
)

func TestRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	j, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, j.List(0))

	first, err := j.Record(Entry{Kind: "swap", Summary: "1 ETH -> USDC", Outcome: OutcomeConfirmed})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Time.IsZero())

	_, err = j.Record(Entry{Kind: "approval", Outcome: OutcomeFailed})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	entries := reopened.List(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "approval", entries[0].Kind)
	assert.Equal(t, first.ID, entries[1].ID)

	assert.Len(t, reopened.List(1), 1)

	got, err := reopened.Get(first.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, "1 ETH -> USDC", got.Summary)

	_, err = reopened.Get("nope")
	assert.ErrorContains(t, err, "not found")

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestGetAmbiguousPrefix(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	_, err = j.Record(Entry{ID: "abc-1"})
	require.NoError(t, err)
	_, err = j.Record(Entry{ID: "abc-2"})
	require.NoError(t, err)

	_, err = j.Get("abc")
	assert.ErrorContains(t, err, "ambiguous")
}

func TestRecordTrimsOldest(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	for i := 0; i < MaxEntries+5; i++ {
		_, err := j.Record(Entry{ID: fmt.Sprintf("run-%d", i)})
		require.NoError(t, err)
	}
	entries := j.List(0)
	require.Len(t, entries, MaxEntries)
	assert.Equal(t, fmt.Sprintf("run-%d", MaxEntries+4), entries[0].ID)
	assert.Equal(t, "run-5", entries[len(entries)-1].ID)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestNewEntry(t *testing.T) {
	receipt := &execution.Receipt{
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 42,
		GasUsed:     21000,
		Status:      execution.ReceiptSuccess,
	}

	ok := NewEntry("swap", "s", receipt, nil)
	assert.Equal(t, OutcomeConfirmed, ok.Outcome)
	assert.Equal(t, uint64(42), ok.BlockNumber)
	assert.Empty(t, ok.Error)

	reverted := &execution.Error{
		Kind:    execution.KindTransactionReverted,
		Op:      "confirm",
		Err:     errors.New("status 0"),
		Receipt: &execution.Receipt{TxHash: common.HexToHash("0x02"), BlockNumber: 7, Status: execution.ReceiptReverted},
	}
	e := NewEntry("rebalance", "r", nil, fmt.Errorf("execute: %w", reverted))
	assert.Equal(t, OutcomeReverted, e.Outcome)
	assert.Equal(t, execution.KindTransactionReverted, e.ErrorKind)
	assert.Equal(t, common.HexToHash("0x02").Hex(), e.TxHash)
	assert.Equal(t, uint64(7), e.BlockNumber)

	failed := NewEntry("swap", "s", nil, &execution.ServiceError{StatusCode: 400, Body: "bad"})
	assert.Equal(t, OutcomeFailed, failed.Outcome)
	assert.Equal(t, execution.KindService, failed.ErrorKind)
	assert.Empty(t, failed.TxHash)
}
