package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	DefaultConfirmations uint64 = 1

	DefaultSwapRetryGasLimit uint64 = 1_000_000
)

// TxState is a step of the submission state machine.
type TxState int

const (
	StateBuilding TxState = iota
	StateSigned
	StateSent
	StateConfirmed
	StateFailed
)

func (s TxState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigned:
		return "signed"
	case StateSent:
		return "sent"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// RetryPolicy decides the gas limit of the single retry after a gas
// shortfall. FixedLimit wins when it is above the prior limit; otherwise
// the prior limit is scaled by Numerator/Denominator.
type RetryPolicy struct {
	Numerator   uint64
	Denominator uint64
	FixedLimit  uint64
}

// DefaultRetryPolicy retries with 1.5x the prior gas limit.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Numerator: 3, Denominator: 2}
}

// NextGasLimit returns the gas limit for the retry.
func (p RetryPolicy) NextGasLimit(prior uint64) uint64 {
	if p.FixedLimit > prior {
		return p.FixedLimit
	}
	num, den := p.Numerator, p.Denominator
	if den == 0 || num <= den {
		num, den = 3, 2
	}
	return prior * num / den
}

// Submitter builds, signs, broadcasts and confirms transactions.
type Submitter struct {
	gateway       Gateway
	nonces        *NonceAllocator
	confirmations uint64
	log           *zap.Logger
}

func NewSubmitter(gateway Gateway, nonces *NonceAllocator, confirmations uint64, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	if confirmations == 0 {
		confirmations = DefaultConfirmations
	}
	return &Submitter{
		gateway:       gateway,
		nonces:        nonces,
		confirmations: confirmations,
		log:           log,
	}
}

// Submit sends tx and blocks until it is confirmed. A broadcast that fails
// with a gas shortfall is re-signed and re-sent once, with the same nonce
// and a gas limit chosen by policy. Every other failure is terminal.
func (s *Submitter) Submit(ctx context.Context, tx TxRequest, signer Signer, gasLimit uint64, policy RetryPolicy) (*Receipt, error) {
	log := s.log.With(
		zap.String("from", signer.Address().Hex()),
		zap.String("to", addressHex(tx.To)),
	)

	pending, release, err := s.build(ctx, tx, signer.Address(), gasLimit)
	if err != nil {
		log.Debug("transaction state", zap.Stringer("state", StateFailed), zap.Error(err))
		return nil, err
	}
	log = log.With(zap.Uint64("nonce", pending.Nonce))
	log.Debug("transaction state", zap.Stringer("state", StateBuilding), zap.Uint64("gasLimit", pending.GasLimit))

	hash, err := s.signAndSend(ctx, pending, signer, log)
	if errors.Is(err, ErrGasShortfall) {
		retry := pending
		retry.GasLimit = policy.NextGasLimit(pending.GasLimit)
		log.Warn("gas shortfall, retrying once with a higher gas limit",
			zap.Uint64("previous", pending.GasLimit),
			zap.Uint64("gasLimit", retry.GasLimit),
			zap.Error(err),
		)
		hash, err = s.signAndSend(ctx, retry, signer, log)
	}
	release(err == nil)
	if err != nil {
		log.Debug("transaction state", zap.Stringer("state", StateFailed), zap.Error(err))
		return nil, err
	}

	receipt, err := s.gateway.WaitConfirmation(ctx, hash, s.confirmations)
	if err != nil {
		log.Debug("transaction state", zap.Stringer("state", StateFailed), zap.Error(err))
		return nil, NewError(KindChainRead, "wait confirmation", err)
	}
	if receipt.Status == ReceiptReverted {
		log.Debug("transaction state", zap.Stringer("state", StateFailed), zap.String("hash", hash.Hex()))
		return receipt, &Error{
			Kind:    KindTransactionReverted,
			Op:      "confirm",
			Err:     fmt.Errorf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber),
			Receipt: receipt,
		}
	}

	log.Debug("transaction state",
		zap.Stringer("state", StateConfirmed),
		zap.String("hash", hash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return receipt, nil
}

// build assembles the pending transaction. On success the signer's nonce
// stays locked until release is called.
func (s *Submitter) build(ctx context.Context, tx TxRequest, from common.Address, gasLimit uint64) (PendingTransaction, ReleaseNonceFunc, error) {
	chainID, err := s.gateway.ChainID(ctx)
	if err != nil {
		return PendingTransaction{}, nil, NewError(KindChainRead, "read chain id", err)
	}

	gasPrice := tx.GasPriceHint
	if gasPrice == nil {
		gasPrice, err = s.gateway.GasPrice(ctx)
		if err != nil {
			return PendingTransaction{}, nil, NewError(KindChainRead, "read gas price", err)
		}
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, release, err := s.nonces.Next(ctx, from)
	if err != nil {
		return PendingTransaction{}, nil, err
	}

	return PendingTransaction{
		To:       tx.To,
		Data:     tx.Data,
		Value:    value,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Nonce:    nonce,
		ChainID:  chainID,
	}, release, nil
}

func (s *Submitter) signAndSend(ctx context.Context, pending PendingTransaction, signer Signer, log *zap.Logger) (common.Hash, error) {
	raw, err := signer.SignTransaction(ctx, pending)
	if err != nil {
		return common.Hash{}, NewError(KindSigning, "sign transaction", err)
	}
	log.Debug("transaction state", zap.Stringer("state", StateSigned), zap.Uint64("gasLimit", pending.GasLimit))

	hash, err := s.gateway.SendSigned(ctx, raw)
	if err != nil {
		return common.Hash{}, classifySendError(err)
	}
	log.Debug("transaction state", zap.Stringer("state", StateSent), zap.String("hash", hash.Hex()))
	return hash, nil
}

// classifySendError keeps gateway classifications and falls back to
// message matching for unclassified errors.
func classifySendError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsGasShortfall(err) {
		return GasShortfall("send transaction", err)
	}
	return NewError(KindBroadcast, "send transaction", err)
}

func addressHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
