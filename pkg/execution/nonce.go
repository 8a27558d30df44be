package execution

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ReleaseNonceFunc unlocks the account. When sent is true the nonce is
// recorded as used so the next caller gets n+1.
type ReleaseNonceFunc func(sent bool)

// NonceAllocator hands out nonces per account. The account stays locked
// between Next and the release call, so concurrent transactions from the
// same signer never share a nonce.
type NonceAllocator struct {
	gateway Gateway

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
	next  map[common.Address]uint64
}

func NewNonceAllocator(gateway Gateway) *NonceAllocator {
	return &NonceAllocator{
		gateway: gateway,
		locks:   make(map[common.Address]*sync.Mutex),
		next:    make(map[common.Address]uint64),
	}
}

func (n *NonceAllocator) lockFor(account common.Address) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[account]
	if !ok {
		l = &sync.Mutex{}
		n.locks[account] = l
	}
	return l
}

// Next locks account and returns the nonce to use.
func (n *NonceAllocator) Next(ctx context.Context, account common.Address) (uint64, ReleaseNonceFunc, error) {
	l := n.lockFor(account)
	l.Lock()

	remote, err := n.gateway.Nonce(ctx, account)
	if err != nil {
		l.Unlock()
		return 0, nil, NewError(KindChainRead, "read nonce", err)
	}

	n.mu.Lock()
	local := n.next[account]
	n.mu.Unlock()

	// a higher node nonce means another client sent transactions meanwhile
	nonce := remote
	if local > remote {
		nonce = local
	}

	var once sync.Once
	release := func(sent bool) {
		once.Do(func() {
			if sent {
				n.mu.Lock()
				n.next[account] = nonce + 1
				n.mu.Unlock()
			}
			l.Unlock()
		})
	}
	return nonce, release, nil
}
