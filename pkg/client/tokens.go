package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/common"

	"swapexec/pkg/execution"
)

// TokenInfo is a token resolved to its on-chain identity.
type TokenInfo struct {
	Symbol     string         `json:"symbol"`
	Blockchain string         `json:"blockchain"`
	Address    common.Address `json:"address"`
	Decimals   uint8          `json:"decimals"`
}

// TokenRegistry resolves token symbols through the 1Click token list.
type TokenRegistry struct {
	client   *oneclick.APIClient
	jwtToken string

	mu     sync.Mutex
	cached []oneclick.TokenResponse
}

// NewTokenRegistry creates a registry backed by the 1Click API
func NewTokenRegistry(jwtToken string) *TokenRegistry {
	return &TokenRegistry{
		client:   oneclick.NewAPIClient(oneclick.NewConfiguration()),
		jwtToken: jwtToken,
	}
}

// Tokens retrieves all supported tokens. The list is fetched once.
func (r *TokenRegistry) Tokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return r.cached, nil
	}

	if r.jwtToken != "" {
		ctx = context.WithValue(ctx, oneclick.ContextAccessToken, r.jwtToken)
	}
	resp, httpResp, err := r.client.OneClickAPI.GetTokens(ctx).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	r.cached = resp
	return resp, nil
}

// List returns the supported tokens on EVM-style chains, i.e. those whose
// contract address (if any) is a hex address.
func (r *TokenRegistry) List(ctx context.Context) ([]TokenInfo, error) {
	tokens, err := r.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		if contract := t.GetContractAddress(); contract != "" && !common.IsHexAddress(contract) {
			continue
		}
		infos = append(infos, toTokenInfo(t))
	}
	return infos, nil
}

// Lookup resolves symbol on blockchain.
func (r *TokenRegistry) Lookup(ctx context.Context, symbol, blockchain string) (*TokenInfo, error) {
	infos, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return findToken(infos, symbol, blockchain)
}

func toTokenInfo(t oneclick.TokenResponse) TokenInfo {
	// tokens without a contract are the chain's native currency
	addr := execution.NativeToken
	if contract := t.GetContractAddress(); common.IsHexAddress(contract) {
		addr = common.HexToAddress(contract)
	}
	return TokenInfo{
		Symbol:     t.GetSymbol(),
		Blockchain: t.GetBlockchain(),
		Address:    addr,
		Decimals:   uint8(t.GetDecimals()),
	}
}

func findToken(tokens []TokenInfo, symbol, blockchain string) (*TokenInfo, error) {
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbol) && strings.EqualFold(t.Blockchain, blockchain) {
			found := t
			return &found, nil
		}
	}
	return nil, fmt.Errorf("token '%s' not found on chain '%s'", strings.ToUpper(symbol), strings.ToLower(blockchain))
}
