package execution

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swapexec/pkg/types"
)

// NativeToken is the sentinel address quote services use for the chain's
// native currency.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// PlanKind identifies the flavor of an execution plan.
type PlanKind string

const (
	PlanSingleSwap PlanKind = "swap"
	PlanRebalance  PlanKind = "rebalance"
)

// AllowanceRequirement is an approval the plan needs before its transaction
// can succeed. Missing addresses are the zero address, a missing amount is nil.
type AllowanceRequirement struct {
	Token        common.Address `json:"token"`
	Symbol       string         `json:"symbol,omitempty"`
	Spender      common.Address `json:"spender"`
	NeededAmount *big.Int       `json:"neededAmount"`
}

// TxRequest is the executable payload carried by a plan.
type TxRequest struct {
	To           *common.Address `json:"to"`
	Data         []byte          `json:"data"`
	Value        *big.Int        `json:"value"`
	GasPriceHint *big.Int        `json:"gasPriceHint,omitempty"`
}

// Empty reports whether there is nothing to send.
func (t TxRequest) Empty() bool {
	return t.To == nil || *t.To == (common.Address{}) || len(t.Data) == 0
}

// Plan is an execution plan produced by the quote/plan service. It is
// consumed exactly once by the engine.
type Plan interface {
	Kind() PlanKind
	HasTransaction() bool
	AllowanceRequirements() []AllowanceRequirement
	Transaction() TxRequest
	ExpiresAt() time.Time
}

// SingleSwapPlan is a quote for swapping one token into another.
type SingleSwapPlan struct {
	SellToken    common.Address
	BuyToken     common.Address
	SellAmount   *big.Int
	BuyAmount    *big.Int
	MinBuyAmount *big.Int
	Tx           TxRequest
	// Allowance is set when the service reported an allowance issue.
	Allowance *AllowanceRequirement
	Expiry    time.Time
	// QuotedGas is the service's own gas figure, informational only.
	QuotedGas uint64
}

func (p *SingleSwapPlan) Kind() PlanKind { return PlanSingleSwap }

func (p *SingleSwapPlan) HasTransaction() bool { return !p.Tx.Empty() }

func (p *SingleSwapPlan) AllowanceRequirements() []AllowanceRequirement {
	if p.Allowance == nil {
		return nil
	}
	return []AllowanceRequirement{*p.Allowance}
}

func (p *SingleSwapPlan) Transaction() TxRequest { return p.Tx }

func (p *SingleSwapPlan) ExpiresAt() time.Time { return p.Expiry }

// TokenAmount is an amount of a token in base units.
type TokenAmount struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Trade is one leg of a rebalance.
type Trade struct {
	Sell TokenAmount `json:"sell"`
	Buy  TokenAmount `json:"buy"`
}

// RebalancePlan is a batch of trades moving a wallet towards target weights.
type RebalancePlan struct {
	Trades             []Trade
	RequiredAllowances []AllowanceRequirement
	Tx                 TxRequest
	Expiry             time.Time
}

func (p *RebalancePlan) Kind() PlanKind { return PlanRebalance }

func (p *RebalancePlan) HasTransaction() bool { return !p.Tx.Empty() }

func (p *RebalancePlan) AllowanceRequirements() []AllowanceRequirement {
	return p.RequiredAllowances
}

func (p *RebalancePlan) Transaction() TxRequest { return p.Tx }

func (p *RebalancePlan) ExpiresAt() time.Time { return p.Expiry }

// Expired reports whether the plan carries an expiry that has passed.
func Expired(p Plan, now time.Time) bool {
	exp := p.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// PlanSource produces plans from the quote/plan service.
type PlanSource interface {
	SwapPlan(ctx context.Context, req types.SwapQuoteRequest) (*SingleSwapPlan, error)
	RebalancePlan(ctx context.Context, req types.RebalanceRequest) (*RebalancePlan, error)
}

// PendingTransaction is a fully determined, unsigned transaction.
type PendingTransaction struct {
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
	ChainID  *big.Int
}

// ReceiptStatus is the on-chain outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the terminal artifact of a confirmed transaction.
type Receipt struct {
	BlockNumber uint64        `json:"blockNumber"`
	GasUsed     uint64        `json:"gasUsed"`
	TxHash      common.Hash   `json:"transactionHash"`
	Status      ReceiptStatus `json:"status"`
}

// CallParams describes a call for gas estimation.
type CallParams struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// Gateway is the blockchain node as seen by the engine.
type Gateway interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call CallParams) (uint64, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	SendSigned(ctx context.Context, raw []byte) (common.Hash, error)
	WaitConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer holds the key that authorizes transactions.
type Signer interface {
	Address() common.Address
	SignTransaction(ctx context.Context, tx PendingTransaction) ([]byte, error)
}
