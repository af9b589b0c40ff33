// Package dex models the execution gateway: venues that quote a token pair
// and execute a chosen swap. The mock implementation carries configurable
// latency and failure injection so the pipeline can be exercised in
// deterministic and stochastic test modes; a production integration swaps
// in real venues without changing the worker contract.
package dex

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dexlab/swapexec/pkg/models"
)

// Venue is one liquidity source. Quote is expected to be sub-second;
// Execute may take substantially longer and callers must not assume
// bounded latency.
type Venue interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error)
	Execute(ctx context.Context, order *models.Order, expectedPrice decimal.Decimal) (models.ExecutionResult, error)
}

// StageError tags a venue failure with the pipeline stage it occurred in,
// so quoting failures are distinguishable from execution failures.
type StageError struct {
	Stage string // "quote" or "swap"
	Venue string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("MOCK_FAIL:%s_%s", e.Stage, e.Venue)
}
