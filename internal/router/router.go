// Package router obtains competing quotes from all configured venues and
// deterministically selects the best one.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/internal/dex"
	"github.com/dexlab/swapexec/pkg/models"
)

// ErrNoQuotes is returned when selection is attempted on an empty set.
var ErrNoQuotes = errors.New("no quotes to select from")

// Router fans quote requests out to its venues. The configured venue order
// is the canonical tie-break order: on exactly equal net prices the
// earliest-listed venue wins.
type Router struct {
	venues []dex.Venue
	logger *zap.Logger
}

// New creates a Router over the given venues.
func New(venues []dex.Venue, logger *zap.Logger) *Router {
	return &Router{venues: venues, logger: logger}
}

// Venue looks a venue up by name for execution dispatch.
func (r *Router) Venue(name string) (dex.Venue, bool) {
	for _, v := range r.venues {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// Quotes fetches a quote from every venue concurrently and joins before
// returning. A single venue failure aborts routing for the attempt; partial
// venue sets are never returned. The result preserves the configured venue
// order.
func (r *Router) Quotes(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) ([]models.Quote, error) {
	type result struct {
		idx   int
		quote models.Quote
		err   error
	}

	results := make(chan result, len(r.venues))
	for i, v := range r.venues {
		go func(idx int, v dex.Venue) {
			q, err := v.Quote(ctx, tokenIn, tokenOut, amountIn)
			results <- result{idx: idx, quote: q, err: err}
		}(i, v)
	}

	quotes := make([]models.Quote, len(r.venues))
	var firstErr error
	for range r.venues {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		quotes[res.idx] = res.quote
	}
	if firstErr != nil {
		return nil, fmt.Errorf("quote fan-out failed: %w", firstErr)
	}
	return quotes, nil
}

// SelectBest returns the quote maximizing price * (1 - fee). Pure function
// of the quote set: equal nets resolve to the earliest quote in the slice,
// never randomly.
func (r *Router) SelectBest(quotes []models.Quote) (models.Quote, error) {
	if len(quotes) == 0 {
		return models.Quote{}, ErrNoQuotes
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.Net().GreaterThan(best.Net()) {
			best = q
		}
	}
	return best, nil
}
