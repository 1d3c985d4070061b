// Package asset defines token identity and metadata shared across the bot.
package asset

import "github.com/ethereum/go-ethereum/common"

// Token represents an ERC20 token traded by the bot. Identity is the
// contract address; symbol and name are display metadata only. Tokens
// are immutable after construction.
type Token struct {
	address  common.Address
	symbol   string
	name     string
	decimals uint8
}

// NewToken creates a token with the given address, symbol and decimal precision.
func NewToken(address common.Address, symbol string, decimals uint8) *Token {
	if symbol == "" {
		panic("asset: empty symbol")
	}
	if decimals > 30 {
		panic("asset: suspicious decimals (>30)")
	}

	return &Token{
		address:  address,
		symbol:   symbol,
		decimals: decimals,
	}
}

// NewTokenWithName creates a token with a human-readable name.
func NewTokenWithName(address common.Address, symbol, name string, decimals uint8) *Token {
	t := NewToken(address, symbol, decimals)
	t.name = name
	return t
}

// Address returns the token contract address.
func (t *Token) Address() common.Address {
	return t.address
}

// Symbol returns the ticker symbol (e.g., "WETH", "USDC").
func (t *Token) Symbol() string {
	return t.symbol
}

// Name returns the human-readable name, falling back to the symbol.
func (t *Token) Name() string {
	if t.name == "" {
		return t.symbol
	}
	return t.name
}

// Decimals returns the number of decimal places.
func (t *Token) Decimals() uint8 {
	return t.decimals
}

// String returns a human-readable representation.
func (t *Token) String() string {
	return t.symbol
}

// Equals compares two tokens by address.
func (t *Token) Equals(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.address == other.address
}
