package dex

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/pkg/models"
)

// Config tunes the mock gateway. Rand is the injection point for
// deterministic tests; nil means math/rand.
type Config struct {
	BasePrice      decimal.Decimal
	QuoteLatency   time.Duration
	SwapLatencyMin time.Duration
	SwapLatencyMax time.Duration
	FailureRate    float64
	Rand           func() float64
}

// MockVenue simulates one liquidity source with a fixed fee and a bounded
// random jitter around the configured base price.
type MockVenue struct {
	name        string
	fee         decimal.Decimal
	priceLow    float64
	priceSpread float64
	cfg         Config
	logger      *zap.Logger
}

// NewMockVenues returns the default two-venue set. Raydium quotes in
// [0.98, 1.02) of base with a 0.3% fee, meteora in [0.97, 1.02) with a
// 0.2% fee.
func NewMockVenues(cfg Config, logger *zap.Logger) []Venue {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.BasePrice.IsZero() {
		cfg.BasePrice = decimal.NewFromInt(10)
	}
	return []Venue{
		&MockVenue{name: "raydium", fee: decimal.NewFromFloat(0.003), priceLow: 0.98, priceSpread: 0.04, cfg: cfg, logger: logger},
		&MockVenue{name: "meteora", fee: decimal.NewFromFloat(0.002), priceLow: 0.97, priceSpread: 0.05, cfg: cfg, logger: logger},
	}
}

// Name implements Venue.
func (v *MockVenue) Name() string { return v.name }

// Quote implements Venue.
func (v *MockVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error) {
	if err := sleep(ctx, v.cfg.QuoteLatency); err != nil {
		return models.Quote{}, err
	}
	if err := v.maybeFail("quote"); err != nil {
		return models.Quote{}, err
	}

	jitter := decimal.NewFromFloat(v.priceLow + v.cfg.Rand()*v.priceSpread)
	price := v.cfg.BasePrice.Mul(jitter)

	v.logger.Debug("venue quote",
		zap.String("venue", v.name),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("amount_in", amountIn.String()),
		zap.String("price", price.String()),
	)

	return models.Quote{Venue: v.name, Price: price, Fee: v.fee}, nil
}

// Execute implements Venue. The realized price is the expected price; a
// real integration would report the on-chain fill here.
func (v *MockVenue) Execute(ctx context.Context, order *models.Order, expectedPrice decimal.Decimal) (models.ExecutionResult, error) {
	latency := v.cfg.SwapLatencyMin
	if spread := v.cfg.SwapLatencyMax - v.cfg.SwapLatencyMin; spread > 0 {
		latency += time.Duration(v.cfg.Rand() * float64(spread))
	}
	if err := sleep(ctx, latency); err != nil {
		return models.ExecutionResult{}, err
	}
	if err := v.maybeFail("swap"); err != nil {
		return models.ExecutionResult{}, err
	}

	return models.ExecutionResult{
		TxHash:        v.mockTxHash(),
		ExecutedPrice: expectedPrice,
	}, nil
}

func (v *MockVenue) maybeFail(stage string) error {
	if v.cfg.FailureRate <= 0 {
		return nil
	}
	if v.cfg.Rand() < v.cfg.FailureRate {
		return &StageError{Stage: stage, Venue: v.name}
	}
	return nil
}

func (v *MockVenue) mockTxHash() string {
	const scale = 1 << 52
	return fmt.Sprintf("MOCK_%013x%013x",
		uint64(v.cfg.Rand()*scale),
		uint64(v.cfg.Rand()*scale),
	)
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
