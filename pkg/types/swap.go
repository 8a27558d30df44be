package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapCommand represents a user's swap command as typed on the command line
type SwapCommand struct {
	Amount    string
	SellToken string
	BuyToken  string
}

// SwapQuoteRequest holds the parameters sent to the quote service for a single swap
type SwapQuoteRequest struct {
	SellToken         common.Address
	BuyToken          common.Address
	SellAmount        *big.Int
	Taker             common.Address
	TxOrigin          common.Address
	MaxSlippageBps    uint32
	MaxPriceImpactBps uint32
	MinExpirySec      uint32
	SkipSimulation    bool
	SkipChecks        bool
}

// RebalanceEntry is one token position. Base entries carry an amount,
// target entries carry a weight in basis points.
type RebalanceEntry struct {
	Token     common.Address `json:"token"`
	Amount    *big.Int       `json:"amount,omitempty"`
	WeightBps uint32         `json:"weightBps,omitempty"`
}

// RebalanceRequest holds the parameters sent to the plan service for a rebalance
type RebalanceRequest struct {
	Signer                 common.Address
	Wallet                 common.Address
	BaseEntries            []RebalanceEntry
	TargetEntries          []RebalanceEntry
	MaxDeviationFromTarget uint32
	MaxSlippage            uint32
	MaxPriceImpact         uint32
	BatchTrade             bool
	RevertOnError          bool
	SkipBalanceValidation  bool
	FailOnMissingPricePair bool
}
