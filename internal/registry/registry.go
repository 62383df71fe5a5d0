// Package registry holds the static table of tradable tokens: addresses,
// chains, decimals and minimum trade sizes. Loaded once at startup and
// never mutated.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Chain string

const (
	ChainEVM Chain = "evm"
	ChainSVM Chain = "svm"
)

// Token identifies one tradable asset on one chain.
type Token struct {
	Symbol    string  `yaml:"symbol"`
	Address   string  `yaml:"address"`
	Chain     Chain   `yaml:"chain"`
	Decimals  int     `yaml:"decimals"`
	MinAmount float64 `yaml:"min_amount"` // minimum tradable quantity in token units
	Stable    bool    `yaml:"stable"`     // cash-equivalent (USDC and friends)
}

// Registry is the immutable token universe for a run.
type Registry struct {
	tokens    []Token
	byAddress map[string]Token
	bySymbol  map[string]Token // first token wins for duplicate symbols (USDC variants)
}

func New(tokens []Token) (*Registry, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty token registry")
	}
	r := &Registry{
		tokens:    make([]Token, len(tokens)),
		byAddress: make(map[string]Token, len(tokens)),
		bySymbol:  make(map[string]Token, len(tokens)),
	}
	copy(r.tokens, tokens)
	for _, t := range tokens {
		if t.Address == "" || t.Symbol == "" {
			return nil, fmt.Errorf("token %q missing symbol or address", t.Symbol)
		}
		if _, dup := r.byAddress[t.Address]; dup {
			return nil, fmt.Errorf("duplicate token address %s", t.Address)
		}
		r.byAddress[t.Address] = t
		if _, ok := r.bySymbol[t.Symbol]; !ok {
			r.bySymbol[t.Symbol] = t
		}
	}
	if len(r.Stables()) == 0 {
		return nil, fmt.Errorf("registry has no stable token")
	}
	return r, nil
}

type registryFile struct {
	Tokens []Token `yaml:"tokens"`
}

// Load reads a yaml registry file, or returns the built-in default universe
// when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(DefaultTokens())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return New(f.Tokens)
}

func (r *Registry) ByAddress(addr string) (Token, bool) {
	t, ok := r.byAddress[addr]
	return t, ok
}

func (r *Registry) BySymbol(sym string) (Token, bool) {
	t, ok := r.bySymbol[sym]
	return t, ok
}

// All returns every token in registry order (deterministic iteration order
// for the decision loop).
func (r *Registry) All() []Token {
	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// Volatile returns the non-stable tokens in registry order.
func (r *Registry) Volatile() []Token {
	var out []Token
	for _, t := range r.tokens {
		if !t.Stable {
			out = append(out, t)
		}
	}
	return out
}

// Stables returns the cash-equivalent tokens.
func (r *Registry) Stables() []Token {
	var out []Token
	for _, t := range r.tokens {
		if t.Stable {
			out = append(out, t)
		}
	}
	return out
}

// IsStableSymbol reports whether sym names a cash-equivalent token.
func (r *Registry) IsStableSymbol(sym string) bool {
	t, ok := r.bySymbol[sym]
	return ok && t.Stable
}

// StableFor returns the cash token used to fund or absorb trades on the
// given chain. Trades never cross chains, so every chain in the universe
// must have a stable leg.
func (r *Registry) StableFor(chain Chain) (Token, bool) {
	for _, t := range r.tokens {
		if t.Stable && t.Chain == chain {
			return t, true
		}
	}
	return Token{}, false
}

// Symbols returns the distinct symbols, sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DefaultTokens is the sandbox multi-chain universe the agent trades when
// no registry file is given.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Chain: ChainEVM, Decimals: 6, MinAmount: 10, Stable: true},
		{Symbol: "USDbC", Address: "0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA", Chain: ChainEVM, Decimals: 6, MinAmount: 10, Stable: true},
		{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Chain: ChainSVM, Decimals: 6, MinAmount: 10, Stable: true},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Chain: ChainEVM, Decimals: 18, MinAmount: 0.01},
		{Symbol: "SOL", Address: "So11111111111111111111111111111111111111112", Chain: ChainSVM, Decimals: 9, MinAmount: 0.1},
		{Symbol: "ARB", Address: "0x912CE59144191C1204E64559FE8253a0e49E6548", Chain: ChainEVM, Decimals: 18, MinAmount: 0.5},
		{Symbol: "OP", Address: "0x4200000000000000000000000000000000000042", Chain: ChainEVM, Decimals: 18, MinAmount: 0.5},
		{Symbol: "MATIC", Address: "0x0000000000000000000000000000000000001010", Chain: ChainEVM, Decimals: 18, MinAmount: 5},
		{Symbol: "LINK", Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Chain: ChainEVM, Decimals: 18, MinAmount: 0.3},
		{Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Chain: ChainEVM, Decimals: 18, MinAmount: 0.5},
	}
}
