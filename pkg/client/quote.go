package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"swapexec/pkg/execution"
	"swapexec/pkg/types"
)

const (
	swapQuotePath      = "/swap/v1/quote"
	rebalanceQuotePath = "/rebalance/v1/quote"
	apiKeyHeader       = "0x-api-key"

	DefaultTimeout = 30 * time.Second
)

var _ execution.PlanSource = (*QuoteClient)(nil)

// QuoteConfig configures the quote/plan service client.
type QuoteConfig struct {
	BaseURL string
	APIKey  string
	ChainID uint64
	Timeout time.Duration
}

// QuoteClient fetches execution plans from the quote/plan service.
type QuoteClient struct {
	baseURL string
	apiKey  string
	chainID uint64
	http    *http.Client
	log     *zap.Logger
}

// NewQuoteClient creates a new quote service client
func NewQuoteClient(cfg QuoteConfig, log *zap.Logger) *QuoteClient {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &QuoteClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		chainID: cfg.ChainID,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type txResponse struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

type swapQuoteResponse struct {
	SellToken    string      `json:"sellToken"`
	BuyToken     string      `json:"buyToken"`
	SellAmount   string      `json:"sellAmount"`
	BuyAmount    string      `json:"buyAmount"`
	MinBuyAmount string      `json:"minBuyAmount"`
	Expiry       int64       `json:"expiry"`
	Transaction  *txResponse `json:"transaction"`
	Issues       struct {
		Allowance *struct {
			Actual  string `json:"actual"`
			Spender string `json:"spender"`
		} `json:"allowance"`
	} `json:"issues"`
}

type allowanceResponse struct {
	Token   string `json:"token"`
	Symbol  string `json:"symbol"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tradeResponse struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
}

type rebalanceQuoteResponse struct {
	Trades             []tradeResponse     `json:"trades"`
	RequiredAllowances []allowanceResponse `json:"requiredAllowances"`
	Transaction        *txResponse         `json:"transaction"`
	Expiry             int64               `json:"expiry"`
}

type entryRequest struct {
	Token     string `json:"token"`
	Amount    string `json:"amount,omitempty"`
	WeightBps uint32 `json:"weightBps,omitempty"`
}

type rebalanceQuoteRequest struct {
	ChainID                uint64         `json:"chainId"`
	Signer                 string         `json:"signer"`
	Wallet                 string         `json:"wallet"`
	BaseEntries            []entryRequest `json:"baseEntries"`
	TargetEntries          []entryRequest `json:"targetEntries"`
	MaxDeviationFromTarget uint32         `json:"maxDeviationFromTarget"`
	MaxSlippage            uint32         `json:"maxSlippage"`
	MaxPriceImpact         uint32         `json:"maxPriceImpact"`
	BatchTrade             bool           `json:"batchTrade"`
	RevertOnError          bool           `json:"revertOnError"`
	SkipBalanceValidation  bool           `json:"skipBalanceValidation"`
	FailOnMissingPricePair bool           `json:"failOnMissingPricePair"`
}

// SwapPlan requests a single-swap quote.
func (c *QuoteClient) SwapPlan(ctx context.Context, req types.SwapQuoteRequest) (*execution.SingleSwapPlan, error) {
	params := url.Values{}
	params.Add("chainId", strconv.FormatUint(c.chainID, 10))
	params.Add("sellToken", req.SellToken.Hex())
	params.Add("buyToken", req.BuyToken.Hex())
	if req.SellAmount != nil {
		params.Add("sellAmount", req.SellAmount.String())
	}
	params.Add("taker", req.Taker.Hex())
	if req.TxOrigin != (common.Address{}) {
		params.Add("txOrigin", req.TxOrigin.Hex())
	}
	if req.MaxSlippageBps > 0 {
		params.Add("maxSlippageBps", strconv.FormatUint(uint64(req.MaxSlippageBps), 10))
	}
	if req.MaxPriceImpactBps > 0 {
		params.Add("maxPriceImpactBps", strconv.FormatUint(uint64(req.MaxPriceImpactBps), 10))
	}
	if req.MinExpirySec > 0 {
		params.Add("minExpirySec", strconv.FormatUint(uint64(req.MinExpirySec), 10))
	}
	params.Add("skipSimulation", strconv.FormatBool(req.SkipSimulation))
	params.Add("skipChecks", strconv.FormatBool(req.SkipChecks))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+swapQuotePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	var resp swapQuoteResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.plan(), nil
}

// RebalancePlan requests a rebalance plan.
func (c *QuoteClient) RebalancePlan(ctx context.Context, req types.RebalanceRequest) (*execution.RebalancePlan, error) {
	body := rebalanceQuoteRequest{
		ChainID:                c.chainID,
		Signer:                 req.Signer.Hex(),
		Wallet:                 req.Wallet.Hex(),
		BaseEntries:            toEntryRequests(req.BaseEntries),
		TargetEntries:          toEntryRequests(req.TargetEntries),
		MaxDeviationFromTarget: req.MaxDeviationFromTarget,
		MaxSlippage:            req.MaxSlippage,
		MaxPriceImpact:         req.MaxPriceImpact,
		BatchTrade:             req.BatchTrade,
		RevertOnError:          req.RevertOnError,
		SkipBalanceValidation:  req.SkipBalanceValidation,
		FailOnMissingPricePair: req.FailOnMissingPricePair,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rebalance request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rebalanceQuotePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build rebalance request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp rebalanceQuoteResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return resp.plan(), nil
}

func (c *QuoteClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &execution.ServiceError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &execution.ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.log.Debug("quote service response",
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &execution.ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode quote response: %w", err)
	}
	return nil
}

func (r *swapQuoteResponse) plan() *execution.SingleSwapPlan {
	plan := &execution.SingleSwapPlan{
		SellToken:    parseAddress(r.SellToken),
		BuyToken:     parseAddress(r.BuyToken),
		SellAmount:   parseAmount(r.SellAmount),
		BuyAmount:    parseAmount(r.BuyAmount),
		MinBuyAmount: parseAmount(r.MinBuyAmount),
		Expiry:       parseExpiry(r.Expiry),
	}
	if r.Transaction != nil {
		plan.Tx = r.Transaction.request()
		if gas, err := strconv.ParseUint(r.Transaction.Gas, 10, 64); err == nil {
			plan.QuotedGas = gas
		}
	}
	// the sell token must be approved for the reported spender
	if issue := r.Issues.Allowance; issue != nil {
		plan.Allowance = &execution.AllowanceRequirement{
			Token:        plan.SellToken,
			Spender:      parseAddress(issue.Spender),
			NeededAmount: plan.SellAmount,
		}
	}
	return plan
}

func (r *rebalanceQuoteResponse) plan() *execution.RebalancePlan {
	plan := &execution.RebalancePlan{Expiry: parseExpiry(r.Expiry)}
	for _, t := range r.Trades {
		plan.Trades = append(plan.Trades, execution.Trade{
			Sell: execution.TokenAmount{Token: parseAddress(t.SellToken), Amount: parseAmount(t.SellAmount)},
			Buy:  execution.TokenAmount{Token: parseAddress(t.BuyToken), Amount: parseAmount(t.BuyAmount)},
		})
	}
	for _, a := range r.RequiredAllowances {
		plan.RequiredAllowances = append(plan.RequiredAllowances, execution.AllowanceRequirement{
			Token:        parseAddress(a.Token),
			Symbol:       a.Symbol,
			Spender:      parseAddress(a.Spender),
			NeededAmount: parseAmount(a.Amount),
		})
	}
	if r.Transaction != nil {
		plan.Tx = r.Transaction.request()
	}
	return plan
}

func (t *txResponse) request() execution.TxRequest {
	req := execution.TxRequest{
		Value:        parseAmount(t.Value),
		GasPriceHint: parseAmount(t.GasPrice),
	}
	if common.IsHexAddress(t.To) {
		to := common.HexToAddress(t.To)
		req.To = &to
	}
	if data, err := hexutil.Decode(t.Data); err == nil {
		req.Data = data
	}
	return req
}

func toEntryRequests(entries []types.RebalanceEntry) []entryRequest {
	out := make([]entryRequest, 0, len(entries))
	for _, e := range entries {
		r := entryRequest{Token: e.Token.Hex(), WeightBps: e.WeightBps}
		if e.Amount != nil {
			r.Amount = e.Amount.String()
		}
		out = append(out, r)
	}
	return out
}

// parseAddress returns the zero address for anything malformed so that
// the reconciler rejects it.
func parseAddress(s string) common.Address {
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func parseAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil
	}
	return v
}

func parseExpiry(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
