package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a thread-safe registry of known tokens.
type Registry struct {
	byAddress map[common.Address]*Token
	bySymbol  map[string]*Token
	mu        sync.RWMutex
}

// NewRegistry creates a new empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[common.Address]*Token),
		bySymbol:  make(map[string]*Token),
	}
}

// Register adds a token to the registry.
// Panics if a token with the same address is already registered.
func (r *Registry) Register(t *Token) {
	if t == nil {
		panic("asset: cannot register nil token")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAddress[t.Address()]; exists {
		panic(fmt.Sprintf("asset: %s already registered", t.Address().Hex()))
	}

	r.byAddress[t.Address()] = t
	r.bySymbol[t.Symbol()] = t
}

// Get retrieves a token by address.
func (r *Registry) Get(address common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byAddress[address]
	return t, ok
}

// GetBySymbol retrieves a token by symbol.
func (r *Registry) GetBySymbol(symbol string) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.bySymbol[symbol]
	return t, ok
}

// Resolve returns the registered token for address, or a generic
// 18-decimal placeholder when unknown.
func (r *Registry) Resolve(address common.Address) *Token {
	if t, ok := r.Get(address); ok {
		return t
	}
	return NewToken(address, address.Hex()[:8], 18)
}

// All returns a snapshot of all registered tokens.
func (r *Registry) All() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Token, 0, len(r.byAddress))
	for _, t := range r.byAddress {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns a registry pre-populated with well-known tokens.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(WETH)
	r.Register(USDC)
	r.Register(USDT)
	r.Register(DAI)
	r.Register(WBTC)
	return r
}
