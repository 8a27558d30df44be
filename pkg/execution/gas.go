package execution

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	// estimates are padded by 20%
	gasBufferNumerator   = 120
	gasBufferDenominator = 100

	DefaultApprovalGasFallback  uint64 = 100_000
	DefaultSwapGasFallback      uint64 = 500_000
	DefaultRebalanceGasFallback uint64 = 3_000_000
)

// GasFallbacks are the static limits used when simulation fails.
type GasFallbacks struct {
	Approval  uint64
	Swap      uint64
	Rebalance uint64
}

// DefaultGasFallbacks returns the built-in static limits.
func DefaultGasFallbacks() GasFallbacks {
	return GasFallbacks{
		Approval:  DefaultApprovalGasFallback,
		Swap:      DefaultSwapGasFallback,
		Rebalance: DefaultRebalanceGasFallback,
	}
}

// ForPlan returns the fallback for a plan kind.
func (f GasFallbacks) ForPlan(kind PlanKind) uint64 {
	if kind == PlanRebalance {
		return f.Rebalance
	}
	return f.Swap
}

// GasEstimator produces gas limits from node simulation, falling back to a
// static limit when simulation is not possible.
type GasEstimator struct {
	gateway Gateway
	log     *zap.Logger
}

func NewGasEstimator(gateway Gateway, log *zap.Logger) *GasEstimator {
	if log == nil {
		log = zap.NewNop()
	}
	return &GasEstimator{gateway: gateway, log: log}
}

// Estimate never fails: any estimation error yields fallback unchanged.
func (g *GasEstimator) Estimate(ctx context.Context, call CallParams, fallback uint64) uint64 {
	gas, err := g.gateway.EstimateGas(ctx, call)
	if err == nil && gas == 0 {
		err = errors.New("node returned a zero gas estimate")
	}
	if err != nil {
		g.log.Warn("gas estimation failed, using fallback",
			zap.String("kind", string(KindEstimation)),
			zap.Uint64("fallback", fallback),
			zap.Error(err),
		)
		return fallback
	}

	limit := gas * gasBufferNumerator / gasBufferDenominator
	g.log.Debug("gas estimated",
		zap.Uint64("simulated", gas),
		zap.Uint64("limit", limit),
	)
	return limit
}
