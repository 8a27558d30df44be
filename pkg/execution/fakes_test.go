package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"

	"swapexec/pkg/types"
)

var (
	owner   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	router  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenA  = common.HexToAddress("0xa000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0xb000000000000000000000000000000000000002")
	tokenC  = common.HexToAddress("0xc000000000000000000000000000000000000003")
	spender = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

type allowanceKey struct {
	token, owner, spender common.Address
}

// fakeGateway is an in-memory chain. The node nonce never advances, so
// every nonce above it comes from the allocator.
type fakeGateway struct {
	mu sync.Mutex

	chainID    *big.Int
	gasPrice   *big.Int
	nonce      uint64
	nonceErr   error
	allowances map[allowanceKey]*big.Int
	balances   map[common.Address]*big.Int

	estimate    uint64
	estimateErr error

	// sendErrs are returned by successive sends before failSend is consulted.
	sendErrs []error
	failSend func(raw []byte) error
	reverted bool

	allowanceCalls int
	estimateCalls  int
	nonceCalls     int
	sent           [][]byte
	confirmations  []uint64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		chainID:    big.NewInt(1),
		gasPrice:   big.NewInt(7),
		allowances: make(map[allowanceKey]*big.Int),
		balances:   make(map[common.Address]*big.Int),
		estimate:   100_000,
	}
}

func (g *fakeGateway) setAllowance(token common.Address, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowances[allowanceKey{token, owner, spender}] = big.NewInt(amount)
}

func (g *fakeGateway) Allowance(_ context.Context, token, o, s common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowanceCalls++
	if v, ok := g.allowances[allowanceKey{token, o, s}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (g *fakeGateway) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.balances[token]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (g *fakeGateway) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(g.gasPrice), nil
}

func (g *fakeGateway) EstimateGas(context.Context, CallParams) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.estimateCalls++
	return g.estimate, g.estimateErr
}

func (g *fakeGateway) Nonce(context.Context, common.Address) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nonceCalls++
	return g.nonce, g.nonceErr
}

func (g *fakeGateway) SendSigned(_ context.Context, raw []byte) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, raw)
	if len(g.sendErrs) > 0 {
		err := g.sendErrs[0]
		g.sendErrs = g.sendErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	if g.failSend != nil {
		if err := g.failSend(raw); err != nil {
			return common.Hash{}, err
		}
	}
	return crypto.Keccak256Hash(raw), nil
}

func (g *fakeGateway) WaitConfirmation(_ context.Context, hash common.Hash, confirmations uint64) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmations = append(g.confirmations, confirmations)
	status := ReceiptSuccess
	if g.reverted {
		status = ReceiptReverted
	}
	return &Receipt{BlockNumber: 42, GasUsed: 21_000, TxHash: hash, Status: status}, nil
}

func (g *fakeGateway) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(g.chainID), nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// fakeSigner records what it signs. Its payload starts with the
// destination address so fakes can route failures by target.
type fakeSigner struct {
	mu     sync.Mutex
	signed []PendingTransaction
}

func (s *fakeSigner) Address() common.Address { return owner }

func (s *fakeSigner) SignTransaction(_ context.Context, tx PendingTransaction) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed = append(s.signed, tx)
	return []byte(fmt.Sprintf("%s|%d|%d", tx.To.Hex(), tx.Nonce, tx.GasLimit)), nil
}

func (s *fakeSigner) transactions() []PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingTransaction(nil), s.signed...)
}

func payloadTarget(raw []byte) common.Address {
	return common.HexToAddress(strings.SplitN(string(raw), "|", 2)[0])
}

func payloadGas(raw []byte) uint64 {
	parts := strings.Split(string(raw), "|")
	gas, _ := strconv.ParseUint(parts[len(parts)-1], 10, 64)
	return gas
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Address() common.Address {
	return m.Called().Get(0).(common.Address)
}

func (m *mockSigner) SignTransaction(ctx context.Context, tx PendingTransaction) ([]byte, error) {
	args := m.Called(ctx, tx)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

type fakeSource struct {
	swap      *SingleSwapPlan
	rebalance *RebalancePlan
	err       error

	swapReqs      []types.SwapQuoteRequest
	rebalanceReqs []types.RebalanceRequest
}

func (s *fakeSource) SwapPlan(_ context.Context, req types.SwapQuoteRequest) (*SingleSwapPlan, error) {
	s.swapReqs = append(s.swapReqs, req)
	return s.swap, s.err
}

func (s *fakeSource) RebalancePlan(_ context.Context, req types.RebalanceRequest) (*RebalancePlan, error) {
	s.rebalanceReqs = append(s.rebalanceReqs, req)
	return s.rebalance, s.err
}

func swapTx() TxRequest {
	to := router
	return TxRequest{To: &to, Data: []byte{0xde, 0xad, 0xbe, 0xef}, Value: big.NewInt(0)}
}
