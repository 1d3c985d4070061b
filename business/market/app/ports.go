// Package app contains application services and port definitions for the market context.
package app

import (
	"context"

	"github.com/lbayas/cyclearb/business/market/domain"
)

// QuoteSource fetches raw price state for a set of pools. A per-pool
// failure must not fail the batch: implementations return quotes for
// the pools they could read and only error when the whole batch is
// unreachable.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, pools []*domain.Pool) ([]*domain.PoolQuote, error)
}
