package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swapexec/pkg/types"
)

// RetryPolicies holds the gas-shortfall retry policy for each kind of
// transaction the engine sends.
type RetryPolicies struct {
	Approval  RetryPolicy
	Swap      RetryPolicy
	Rebalance RetryPolicy
}

// DefaultRetryPolicies: swaps retry with a fixed larger limit, everything
// else with 1.5x.
func DefaultRetryPolicies() RetryPolicies {
	swap := DefaultRetryPolicy()
	swap.FixedLimit = DefaultSwapRetryGasLimit
	return RetryPolicies{
		Approval:  DefaultRetryPolicy(),
		Swap:      swap,
		Rebalance: DefaultRetryPolicy(),
	}
}

func (p RetryPolicies) ForPlan(kind PlanKind) RetryPolicy {
	if kind == PlanRebalance {
		return p.Rebalance
	}
	return p.Swap
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithGasFallbacks(f GasFallbacks) Option {
	return func(e *Engine) { e.fallbacks = f }
}

func WithRetryPolicies(p RetryPolicies) Option {
	return func(e *Engine) { e.retries = p }
}

func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(e *Engine) { e.approval = p }
}

func WithConfirmations(n uint64) Option {
	return func(e *Engine) { e.confirmations = n }
}

// WithBalanceCheck makes swaps verify the sell balance before touching
// allowances.
func WithBalanceCheck(enabled bool) Option {
	return func(e *Engine) { e.checkBalance = enabled }
}

// Engine executes plans: it reconciles allowances, estimates gas and
// submits the plan's transaction.
type Engine struct {
	gateway Gateway
	source  PlanSource
	signer  Signer
	nonces  *NonceAllocator

	fallbacks     GasFallbacks
	retries       RetryPolicies
	approval      ApprovalPolicy
	confirmations uint64
	checkBalance  bool
	log           *zap.Logger
}

// NewEngine creates an engine. source may be nil when only Execute is used.
func NewEngine(gateway Gateway, source PlanSource, signer Signer, opts ...Option) *Engine {
	e := &Engine{
		gateway:       gateway,
		source:        source,
		signer:        signer,
		nonces:        NewNonceAllocator(gateway),
		fallbacks:     DefaultGasFallbacks(),
		retries:       DefaultRetryPolicies(),
		approval:      ApproveMax,
		confirmations: DefaultConfirmations,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteSwap fetches a single-swap plan and executes it.
func (e *Engine) ExecuteSwap(ctx context.Context, req types.SwapQuoteRequest) (*Receipt, error) {
	if e.source == nil {
		return nil, errors.New("no plan source configured")
	}
	plan, err := e.source.SwapPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, NewError(KindNoExecutableTransaction, "execute swap", errors.New("plan source returned no plan"))
	}
	return e.Execute(ctx, plan)
}

// ExecuteRebalance fetches a rebalance plan and executes it.
func (e *Engine) ExecuteRebalance(ctx context.Context, req types.RebalanceRequest) (*Receipt, error) {
	if e.source == nil {
		return nil, errors.New("no plan source configured")
	}
	plan, err := e.source.RebalancePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, NewError(KindNoExecutableTransaction, "execute rebalance", errors.New("plan source returned no plan"))
	}
	return e.Execute(ctx, plan)
}

// Execute runs plan to completion. Expiry is not checked here; callers
// must refuse expired plans before calling.
func (e *Engine) Execute(ctx context.Context, plan Plan) (*Receipt, error) {
	if isNilPlan(plan) {
		return nil, NewError(KindNoExecutableTransaction, "execute", errors.New("no plan to execute"))
	}
	log := e.log.With(
		zap.String("run", uuid.NewString()),
		zap.String("plan", string(plan.Kind())),
	)

	if !plan.HasTransaction() {
		return nil, NewError(KindNoExecutableTransaction, "execute", errors.New("plan carries no transaction payload"))
	}

	if swap, ok := plan.(*SingleSwapPlan); ok && e.checkBalance {
		if err := e.ensureBalance(ctx, swap); err != nil {
			return nil, err
		}
	}

	estimator := NewGasEstimator(e.gateway, log)
	submitter := NewSubmitter(e.gateway, e.nonces, e.confirmations, log)

	approved, err := e.reconciler(estimator, submitter, log).Reconcile(ctx, plan.AllowanceRequirements(), e.signer)
	if err != nil {
		return nil, err
	}
	if approved > 0 {
		log.Info("allowances granted", zap.Int("count", approved))
	}

	tx := plan.Transaction()
	gas := estimator.Estimate(ctx, CallParams{
		From:  e.signer.Address(),
		To:    tx.To,
		Data:  tx.Data,
		Value: tx.Value,
	}, e.fallbacks.ForPlan(plan.Kind()))

	receipt, err := submitter.Submit(ctx, tx, e.signer, gas, e.retries.ForPlan(plan.Kind()))
	if err != nil {
		return nil, err
	}
	log.Info("plan executed",
		zap.String("hash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
		zap.Uint64("gasUsed", receipt.GasUsed),
	)
	return receipt, nil
}

// Reconcile grants the given allowances outside of a plan.
func (e *Engine) Reconcile(ctx context.Context, reqs []AllowanceRequirement) (int, error) {
	estimator := NewGasEstimator(e.gateway, e.log)
	submitter := NewSubmitter(e.gateway, e.nonces, e.confirmations, e.log)
	return e.reconciler(estimator, submitter, e.log).Reconcile(ctx, reqs, e.signer)
}

func (e *Engine) reconciler(estimator *GasEstimator, submitter *Submitter, log *zap.Logger) *ApprovalReconciler {
	r := NewApprovalReconciler(e.gateway, estimator, submitter, log)
	r.policy = e.approval
	r.fallback = e.fallbacks.Approval
	r.retry = e.retries.Approval
	return r
}

func (e *Engine) ensureBalance(ctx context.Context, plan *SingleSwapPlan) error {
	if plan.SellAmount == nil {
		return nil
	}
	balance, err := e.gateway.BalanceOf(ctx, plan.SellToken, e.signer.Address())
	if err != nil {
		return NewError(KindChainRead, "read balance", err)
	}
	if balance.Cmp(plan.SellAmount) < 0 {
		return NewError(KindInsufficientBalance, "check balance",
			fmt.Errorf("have %s, need %s of %s", balance, plan.SellAmount, plan.SellToken.Hex()))
	}
	return nil
}

func isNilPlan(plan Plan) bool {
	switch p := plan.(type) {
	case nil:
		return true
	case *SingleSwapPlan:
		return p == nil
	case *RebalancePlan:
		return p == nil
	}
	return false
}
