package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"swapexec/pkg/erc20"
	"swapexec/pkg/execution"
)

const (
	DefaultPollInterval = 2 * time.Second

	nativeDecimals uint8 = 18
)

// Backend is the subset of an Ethereum client the gateway needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionReader
	ethereum.TransactionSender
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ execution.Gateway = (*EthGateway)(nil)

// EthGateway implements execution.Gateway over an Ethereum JSON-RPC node.
type EthGateway struct {
	backend      Backend
	pollInterval time.Duration
	log          *zap.Logger
	closer       func()
}

// Option configures an EthGateway.
type Option func(*EthGateway)

func WithPollInterval(d time.Duration) Option {
	return func(g *EthGateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(g *EthGateway) {
		if log != nil {
			g.log = log
		}
	}
}

// Dial connects to the RPC endpoint.
func Dial(ctx context.Context, rpcURL string, opts ...Option) (*EthGateway, error) {
	if rpcURL == "" {
		return nil, errors.New("RPC URL not configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	g := NewGateway(client, opts...)
	g.closer = client.Close
	return g, nil
}

func NewGateway(backend Backend, opts ...Option) *EthGateway {
	g := &EthGateway{
		backend:      backend,
		pollInterval: DefaultPollInterval,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close closes the client connection
func (g *EthGateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

// Allowance returns how much spender may move of owner's token. The native
// currency needs no approval and reports the maximum.
func (g *EthGateway) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if token == execution.NativeToken {
		return new(big.Int).Set(math.MaxBig256), nil
	}
	data, err := erc20.PackAllowance(owner, spender)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read allowance", err)
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read allowance", fmt.Errorf("failed to call allowance on %s: %w", token.Hex(), err))
	}
	allowance, err := erc20.UnpackUint256("allowance", out)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read allowance", err)
	}
	return allowance, nil
}

// BalanceOf returns owner's balance of token, or of the native currency
// for execution.NativeToken.
func (g *EthGateway) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == execution.NativeToken {
		balance, err := g.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, execution.NewError(execution.KindChainRead, "read balance", err)
		}
		return balance, nil
	}
	data, err := erc20.PackBalanceOf(owner)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read balance", err)
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read balance", fmt.Errorf("failed to call balanceOf on %s: %w", token.Hex(), err))
	}
	balance, err := erc20.UnpackUint256("balanceOf", out)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read balance", err)
	}
	return balance, nil
}

// TokenDecimals reads decimals() from token.
func (g *EthGateway) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == execution.NativeToken {
		return nativeDecimals, nil
	}
	data, err := erc20.PackDecimals()
	if err != nil {
		return 0, err
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals on %s: %w", token.Hex(), err)
	}
	return erc20.UnpackDecimals(out)
}

func (g *EthGateway) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read gas price", err)
	}
	return price, nil
}

func (g *EthGateway) EstimateGas(ctx context.Context, call execution.CallParams) (uint64, error) {
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  call.From,
		To:    call.To,
		Data:  call.Data,
		Value: call.Value,
	})
	if err != nil {
		return 0, execution.NewError(execution.KindEstimation, "estimate gas", err)
	}
	return gas, nil
}

// Nonce returns the next nonce from the latest block.
func (g *EthGateway) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := g.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, execution.NewError(execution.KindChainRead, "read nonce", err)
	}
	return nonce, nil
}

func (g *EthGateway) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, execution.NewError(execution.KindChainRead, "read chain id", err)
	}
	return id, nil
}

// SendSigned broadcasts an RLP or typed-envelope encoded signed transaction.
func (g *EthGateway) SendSigned(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, execution.NewError(execution.KindBroadcast, "decode signed transaction", err)
	}
	if err := g.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, classifySendError(err)
	}
	g.log.Debug("transaction broadcast", zap.String("hash", tx.Hash().Hex()), zap.Uint64("nonce", tx.Nonce()))
	return tx.Hash(), nil
}

func classifySendError(err error) error {
	if execution.IsGasShortfall(err) {
		return execution.GasShortfall("send transaction", err)
	}
	return execution.NewError(execution.KindBroadcast, "send transaction", err)
}

// WaitConfirmation polls until the transaction is mined and buried under
// confirmations-1 further blocks. Read errors are treated as transient, a
// node still indexing transactions reports one, so it only returns early
// when ctx is done.
func (g *EthGateway) WaitConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*execution.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			head, err := g.backend.BlockNumber(ctx)
			if err != nil {
				lastErr = err
				g.log.Debug("block number unavailable", zap.String("hash", hash.Hex()), zap.Error(err))
				break
			}
			mined := receipt.BlockNumber.Uint64()
			if head+1 >= mined+confirmations {
				return toReceipt(receipt), nil
			}
			g.log.Debug("waiting for confirmations",
				zap.String("hash", hash.Hex()),
				zap.Uint64("mined", mined),
				zap.Uint64("head", head),
			)
		case errors.Is(err, ethereum.NotFound):
		default:
			lastErr = err
			g.log.Debug("receipt unavailable", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if lastErr != nil && !errors.Is(lastErr, ctx.Err()) {
				return nil, fmt.Errorf("failed to confirm %s (last error: %v): %w", hash.Hex(), lastErr, ctx.Err())
			}
			return nil, fmt.Errorf("failed to confirm %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// TransactionInfo describes a transaction as seen by the node.
type TransactionInfo struct {
	Hash     common.Hash
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *common.Address
	Value    *big.Int
	Pending  bool
	Receipt  *execution.Receipt
}

// TransactionInfo retrieves a transaction and, once mined, its receipt.
func (g *EthGateway) TransactionInfo(ctx context.Context, hash common.Hash) (*TransactionInfo, error) {
	tx, pending, err := g.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	info := &TransactionInfo{
		Hash:     tx.Hash(),
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice(),
		GasLimit: tx.Gas(),
		To:       tx.To(),
		Value:    tx.Value(),
		Pending:  pending,
	}
	if pending {
		return info, nil
	}
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	info.Receipt = toReceipt(receipt)
	return info, nil
}

func toReceipt(r *types.Receipt) *execution.Receipt {
	status := execution.ReceiptReverted
	if r.Status == types.ReceiptStatusSuccessful {
		status = execution.ReceiptSuccess
	}
	return &execution.Receipt{
		BlockNumber: r.BlockNumber.Uint64(),
		GasUsed:     r.GasUsed,
		TxHash:      r.TxHash,
		Status:      status,
	}
}
