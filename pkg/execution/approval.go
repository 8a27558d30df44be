package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapexec/pkg/erc20"
)

// ApprovalPolicy selects the amount granted when an allowance is short.
type ApprovalPolicy int

const (
	// ApproveMax grants 2^256-1 so later trades need no new approval.
	ApproveMax ApprovalPolicy = iota
	// ApproveExact grants only the amount the plan needs.
	ApproveExact
)

func (p ApprovalPolicy) amount(needed *big.Int) *big.Int {
	if p == ApproveExact {
		return new(big.Int).Set(needed)
	}
	return new(big.Int).Set(math.MaxBig256)
}

// ApprovalReconciler grants the allowances a plan is missing.
type ApprovalReconciler struct {
	gateway   Gateway
	estimator *GasEstimator
	submitter *Submitter

	policy   ApprovalPolicy
	fallback uint64
	retry    RetryPolicy
	log      *zap.Logger
}

func NewApprovalReconciler(gateway Gateway, estimator *GasEstimator, submitter *Submitter, log *zap.Logger) *ApprovalReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ApprovalReconciler{
		gateway:   gateway,
		estimator: estimator,
		submitter: submitter,
		policy:    ApproveMax,
		fallback:  DefaultApprovalGasFallback,
		retry:     DefaultRetryPolicy(),
		log:       log,
	}
}

// Reconcile approves every under-approved requirement concurrently and
// waits for all approvals to confirm. It returns how many approvals were
// confirmed. A malformed requirement aborts before any chain access.
func (r *ApprovalReconciler) Reconcile(ctx context.Context, reqs []AllowanceRequirement, signer Signer) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	for i, req := range reqs {
		if err := validateRequirement(req); err != nil {
			return 0, NewError(KindMalformedRequirement, "reconcile allowances",
				fmt.Errorf("requirement %d (%s): %w", i, req.label(), err))
		}
	}

	owner := signer.Address()
	var short []AllowanceRequirement
	for _, req := range mergeRequirements(reqs) {
		current, err := r.gateway.Allowance(ctx, req.Token, owner, req.Spender)
		if err != nil {
			return 0, NewError(KindChainRead, "read allowance",
				fmt.Errorf("%s (%s): %w", req.label(), req.Token.Hex(), err))
		}
		if current.Cmp(req.NeededAmount) >= 0 {
			r.log.Debug("allowance sufficient",
				zap.String("token", req.label()),
				zap.String("spender", req.Spender.Hex()),
				zap.String("current", current.String()),
			)
			continue
		}
		r.log.Info("allowance short, approving",
			zap.String("token", req.label()),
			zap.String("spender", req.Spender.Hex()),
			zap.String("current", current.String()),
			zap.String("needed", req.NeededAmount.String()),
		)
		short = append(short, req)
	}

	var (
		g         errgroup.Group
		confirmed atomic.Int64
	)
	for _, req := range short {
		req := req
		g.Go(func() error {
			if err := r.approve(ctx, req, signer); err != nil {
				return err
			}
			confirmed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(confirmed.Load()), err
}

func (r *ApprovalReconciler) approve(ctx context.Context, req AllowanceRequirement, signer Signer) error {
	amount := r.policy.amount(req.NeededAmount)
	data, err := erc20.PackApprove(req.Spender, amount)
	if err != nil {
		return NewError(KindMalformedRequirement, "approve", err)
	}

	token := req.Token
	gas := r.estimator.Estimate(ctx, CallParams{From: signer.Address(), To: &token, Data: data}, r.fallback)

	receipt, err := r.submitter.Submit(ctx, TxRequest{To: &token, Data: data}, signer, gas, r.retry)
	if err != nil {
		return fmt.Errorf("failed to approve %s (%s) for %s: %w", req.label(), req.Token.Hex(), req.Spender.Hex(), err)
	}
	r.log.Info("approval confirmed",
		zap.String("token", req.label()),
		zap.String("hash", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return nil
}

func validateRequirement(req AllowanceRequirement) error {
	switch {
	case req.Token == (common.Address{}):
		return fmt.Errorf("missing token address")
	case req.Spender == (common.Address{}):
		return fmt.Errorf("missing spender address")
	case req.NeededAmount == nil:
		return fmt.Errorf("missing needed amount")
	case req.NeededAmount.Sign() < 0:
		return fmt.Errorf("negative needed amount %s", req.NeededAmount)
	}
	return nil
}

// mergeRequirements folds duplicate (token, spender) pairs into one entry
// carrying the largest needed amount. Order of first appearance is kept.
func mergeRequirements(reqs []AllowanceRequirement) []AllowanceRequirement {
	type pair struct{ token, spender common.Address }
	index := make(map[pair]int, len(reqs))
	out := make([]AllowanceRequirement, 0, len(reqs))
	for _, req := range reqs {
		key := pair{req.Token, req.Spender}
		if i, ok := index[key]; ok {
			if req.NeededAmount.Cmp(out[i].NeededAmount) > 0 {
				out[i].NeededAmount = req.NeededAmount
			}
			continue
		}
		index[key] = len(out)
		out = append(out, req)
	}
	return out
}

func (a AllowanceRequirement) label() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Token.Hex()
}
