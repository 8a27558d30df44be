package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapexec/pkg/execution"
	"swapexec/pkg/signer"
)

func newSimulatedGateway(t *testing.T) (*EthGateway, *simulated.Backend, *signer.KeySigner) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := signer.FromKey(key)

	backend := simulated.NewBackend(types.GenesisAlloc{
		s.Address(): {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	return NewGateway(backend.Client(), WithPollInterval(10*time.Millisecond)), backend, s
}

func pendingTransfer(t *testing.T, gw *EthGateway, to common.Address, nonce, gas uint64, data []byte) execution.PendingTransaction {
	t.Helper()
	ctx := context.Background()

	chainID, err := gw.ChainID(ctx)
	require.NoError(t, err)
	price, err := gw.GasPrice(ctx)
	require.NoError(t, err)

	return execution.PendingTransaction{
		To:       &to,
		Data:     data,
		Value:    big.NewInt(1_000),
		GasLimit: gas,
		GasPrice: price,
		Nonce:    nonce,
		ChainID:  chainID,
	}
}

func TestGatewayChainReads(t *testing.T) {
	gw, _, s := newSimulatedGateway(t)
	ctx := context.Background()

	chainID, err := gw.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), chainID.Int64())

	nonce, err := gw.Nonce(ctx, s.Address())
	require.NoError(t, err)
	assert.Zero(t, nonce)

	allowance, err := gw.Allowance(ctx, execution.NativeToken, s.Address(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Zero(t, allowance.Cmp(math.MaxBig256))

	decimals, err := gw.TokenDecimals(ctx, execution.NativeToken)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)
}

func TestGatewayAllowanceOnNonContract(t *testing.T) {
	gw, _, s := newSimulatedGateway(t)

	_, err := gw.Allowance(context.Background(), common.HexToAddress("0xdead"), s.Address(), common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, execution.ErrChainRead)
}

func TestGatewaySendAndConfirm(t *testing.T) {
	gw, backend, s := newSimulatedGateway(t)
	ctx := context.Background()
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	raw, err := s.SignTransaction(ctx, pendingTransfer(t, gw, to, 0, 21_000, nil))
	require.NoError(t, err)

	hash, err := gw.SendSigned(ctx, raw)
	require.NoError(t, err)
	backend.Commit()

	receipt, err := gw.WaitConfirmation(ctx, hash, 1)
	require.NoError(t, err)
	assert.Equal(t, hash, receipt.TxHash)
	assert.Equal(t, execution.ReceiptSuccess, receipt.Status)
	assert.Equal(t, uint64(21_000), receipt.GasUsed)

	balance, err := gw.BalanceOf(ctx, execution.NativeToken, to)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), balance.Int64())

	nonce, err := gw.Nonce(ctx, s.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	info, err := gw.TransactionInfo(ctx, hash)
	require.NoError(t, err)
	assert.False(t, info.Pending)
	require.NotNil(t, info.Receipt)
	assert.Equal(t, receipt.BlockNumber, info.Receipt.BlockNumber)
}

func TestGatewayClassifiesIntrinsicGas(t *testing.T) {
	gw, _, s := newSimulatedGateway(t)
	ctx := context.Background()

	raw, err := s.SignTransaction(ctx, pendingTransfer(t, gw, common.HexToAddress("0xaa"), 0, 20_000, nil))
	require.NoError(t, err)

	_, err = gw.SendSigned(ctx, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrGasShortfall)
}

func TestGatewayBlockGasLimitIsNotShortfall(t *testing.T) {
	gw, _, s := newSimulatedGateway(t)
	ctx := context.Background()

	raw, err := s.SignTransaction(ctx, pendingTransfer(t, gw, common.HexToAddress("0xaa"), 0, 40_000_000, nil))
	require.NoError(t, err)

	_, err = gw.SendSigned(ctx, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrBroadcast)
	assert.NotErrorIs(t, err, execution.ErrGasShortfall)
	assert.ErrorContains(t, err, "block gas limit")
}

func TestGatewayRejectsGarbage(t *testing.T) {
	gw, _, _ := newSimulatedGateway(t)

	_, err := gw.SendSigned(context.Background(), []byte{0x01, 0x02})
	assert.ErrorIs(t, err, execution.ErrBroadcast)
}

func TestWaitConfirmationHonoursContext(t *testing.T) {
	gw, _, _ := newSimulatedGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.WaitConfirmation(ctx, common.HexToHash("0x1234"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// indexingBackend reports that the node is still indexing for the first
// failures receipt lookups.
type indexingBackend struct {
	Backend

	mu       sync.Mutex
	failures int
}

func (b *indexingBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		b.mu.Unlock()
		return nil, errors.New("transaction indexing is in progress")
	}
	b.mu.Unlock()
	return b.Backend.TransactionReceipt(ctx, hash)
}

func (b *indexingBackend) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func TestWaitConfirmationSurvivesIndexing(t *testing.T) {
	gw, backend, s := newSimulatedGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := s.SignTransaction(ctx, pendingTransfer(t, gw, common.HexToAddress("0xcc"), 0, 21_000, nil))
	require.NoError(t, err)
	hash, err := gw.SendSigned(ctx, raw)
	require.NoError(t, err)
	backend.Commit()

	indexing := &indexingBackend{Backend: backend.Client(), failures: 3}
	receipt, err := NewGateway(indexing, WithPollInterval(10*time.Millisecond)).WaitConfirmation(ctx, hash, 1)
	require.NoError(t, err)
	assert.Equal(t, hash, receipt.TxHash)
	assert.Equal(t, execution.ReceiptSuccess, receipt.Status)
	assert.Zero(t, indexing.remaining())
}

func TestWaitConfirmationReportsLastReadError(t *testing.T) {
	_, backend, _ := newSimulatedGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	indexing := &indexingBackend{Backend: backend.Client(), failures: 1 << 20}
	_, err := NewGateway(indexing, WithPollInterval(10*time.Millisecond)).WaitConfirmation(ctx, common.HexToHash("0x1234"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "transaction indexing is in progress")
	assert.NotErrorIs(t, err, execution.ErrChainRead)
}

func TestEngineOnSimulatedChain(t *testing.T) {
	gw, backend, s := newSimulatedGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	plan := &execution.RebalancePlan{
		Tx: execution.TxRequest{To: &to, Data: []byte{0x01}, Value: big.NewInt(5)},
	}
	receipt, err := execution.NewEngine(gw, nil, s).Execute(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, execution.ReceiptSuccess, receipt.Status)

	balance, err := gw.BalanceOf(ctx, execution.NativeToken, to)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance.Int64())
}
