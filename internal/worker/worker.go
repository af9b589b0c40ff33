// Package worker drives an order through its execution state machine:
// pending -> routing -> building -> submitted -> confirmed, with failed
// reachable from any non-terminal state. One job execution owns one order
// end-to-end; all retry policy lives in the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/internal/jobqueue"
	"github.com/dexlab/swapexec/internal/router"
	"github.com/dexlab/swapexec/internal/store"
	"github.com/dexlab/swapexec/pkg/models"
)

// Publisher is the status-broadcast seam. The worker is its only writer.
type Publisher interface {
	Publish(ctx context.Context, orderID string, status models.Status, data interface{}) error
}

// Worker executes order jobs.
type Worker struct {
	store  store.Store
	router *router.Router
	bcast  Publisher
	logger *zap.Logger
}

// New creates a Worker.
func New(st store.Store, rt *router.Router, bcast Publisher, logger *zap.Logger) *Worker {
	return &Worker{store: st, router: rt, bcast: bcast, logger: logger}
}

const (
	nativeSymbol = "SOL"
	wrappedMint  = "wSOL"
)

// normalizeToken substitutes the wrapped native mint for the recognized
// native symbol; every other symbol passes through unchanged.
func normalizeToken(symbol string) string {
	if strings.EqualFold(symbol, nativeSymbol) {
		return wrappedMint
	}
	return symbol
}

// Process runs one job attempt. Any returned error aborts the attempt and
// propagates to the queue's escalation handling; errors a retry cannot fix
// are marked fatal.
func (w *Worker) Process(ctx context.Context, job jobqueue.Job) error {
	start := time.Now()
	log := w.logger.With(
		zap.String("order_id", job.OrderID),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.AttemptsMade+1),
		zap.Int("total_attempts", job.MaxAttempts),
	)
	log.Info("job.start")

	orderID, err := uuid.Parse(job.OrderID)
	if err != nil {
		return jobqueue.Fatal(fmt.Errorf("malformed order id %q: %w", job.OrderID, err))
	}

	order, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error("job.error.order_not_found")
			return jobqueue.Fatal(err)
		}
		return err
	}

	tokenIn := normalizeToken(order.TokenIn)
	tokenOut := normalizeToken(order.TokenOut)

	log.Info("order.loaded",
		zap.String("type", order.Type),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("amount_in", order.AmountIn.String()),
		zap.Int("slippage_bps", order.SlippageBps),
	)

	// pending -> routing
	if err := w.transition(ctx, orderID, models.StatusRouting, nil, nil); err != nil {
		return err
	}
	log.Info("status.routing")

	quoteStart := time.Now()
	quotes, err := w.router.Quotes(ctx, tokenIn, tokenOut, order.AmountIn)
	if err != nil {
		return err
	}
	chosen, err := w.router.SelectBest(quotes)
	if err != nil {
		return err
	}

	quotesByVenue := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		quotesByVenue[q.Venue] = q
	}
	log.Info("routing.decision",
		zap.Duration("elapsed", time.Since(quoteStart)),
		zap.Any("quotes", quotesByVenue),
		zap.String("chosen_dex", chosen.Venue),
		zap.String("chosen_price", chosen.Price.String()),
	)

	// Persist the decision and record the full quote set for audit before
	// moving on.
	if err := w.store.UpdateOrder(ctx, orderID, map[string]interface{}{
		"chosen_dex":     chosen.Venue,
		"expected_price": chosen.Price,
	}); err != nil {
		return err
	}
	if err := w.store.AppendEvent(ctx, orderID, models.StatusRouting, models.RoutingPayload{
		Quotes: quotesByVenue,
		Chosen: chosen,
	}); err != nil {
		return err
	}

	// routing -> building
	buildPayload := models.BuildingPayload{ChosenDex: chosen.Venue}
	if err := w.transition(ctx, orderID, models.StatusBuilding, nil, buildPayload); err != nil {
		return err
	}
	log.Info("status.building", zap.String("chosen_dex", chosen.Venue))

	slippage := decimal.NewFromInt(int64(order.SlippageBps)).Div(decimal.NewFromInt(10000))
	expectedOut := order.AmountIn.Mul(chosen.Price)
	minOut := expectedOut.Mul(decimal.NewFromInt(1).Sub(slippage))
	log.Info("slippage.computed",
		zap.String("slippage", slippage.String()),
		zap.String("expected_out", expectedOut.String()),
		zap.String("min_out", minOut.String()),
	)

	// building -> submitted
	if err := w.transition(ctx, orderID, models.StatusSubmitted, nil, models.SubmittedPayload{MinOut: minOut}); err != nil {
		return err
	}
	log.Info("status.submitted", zap.String("min_out", minOut.String()))

	venue, ok := w.router.Venue(chosen.Venue)
	if !ok {
		return jobqueue.Fatal(fmt.Errorf("chosen venue %q not configured", chosen.Venue))
	}

	log.Info("swap.execute.start", zap.String("dex", chosen.Venue))
	res, err := venue.Execute(ctx, order, chosen.Price)
	if err != nil {
		return err
	}
	log.Info("swap.execute.done",
		zap.String("dex", chosen.Venue),
		zap.String("tx_hash", res.TxHash),
		zap.String("executed_price", res.ExecutedPrice.String()),
	)

	// submitted -> confirmed
	confirmPatch := map[string]interface{}{
		"tx_hash":        res.TxHash,
		"executed_price": res.ExecutedPrice,
	}
	confirmPayload := models.ConfirmedPayload{TxHash: res.TxHash, ExecutedPrice: res.ExecutedPrice}
	if err := w.transition(ctx, orderID, models.StatusConfirmed, confirmPatch, confirmPayload); err != nil {
		return err
	}

	log.Info("job.success",
		zap.String("tx_hash", res.TxHash),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// HandleFailure is the queue's escalation callback. The attempt counter is
// already incremented when it runs. Non-final failures are informational:
// the persisted status is left untouched and a retrying notification is
// layered on top of it. Only the final attempt writes failed.
func (w *Worker) HandleFailure(ctx context.Context, job jobqueue.Job, jobErr error, isFinal bool) {
	log := w.logger.With(
		zap.String("order_id", job.OrderID),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.AttemptsMade),
		zap.Int("total_attempts", job.MaxAttempts),
		zap.Error(jobErr),
	)

	orderID, err := uuid.Parse(job.OrderID)
	if err != nil {
		log.Error("job.failed.unparseable_order_id")
		return
	}

	if !isFinal {
		log.Warn("job.retrying")
		payload := models.RetryPayload{
			Error:   jobErr.Error(),
			Attempt: job.AttemptsMade,
			Total:   job.MaxAttempts,
		}
		if err := w.store.AppendEvent(ctx, orderID, models.StatusRetrying, payload); err != nil {
			log.Error("failed to record retrying event", zap.Error(err))
		}
		if err := w.bcast.Publish(ctx, job.OrderID, models.StatusRetrying, payload); err != nil {
			log.Error("failed to publish retrying event", zap.Error(err))
		}
		return
	}

	log.Error("job.failed.final")
	msg := jobErr.Error()
	if err := w.store.UpdateOrder(ctx, orderID, map[string]interface{}{
		"status": models.StatusFailed,
		"error":  msg,
	}); err != nil {
		log.Error("failed to persist failed status", zap.Error(err))
	}
	payload := models.FailedPayload{Error: msg}
	if err := w.store.AppendEvent(ctx, orderID, models.StatusFailed, payload); err != nil {
		log.Error("failed to record failed event", zap.Error(err))
	}
	if err := w.bcast.Publish(ctx, job.OrderID, models.StatusFailed, payload); err != nil {
		log.Error("failed to publish failed event", zap.Error(err))
	}
}

// transition performs one state-machine step. The row update and the audit
// event both land before the publish, so a replaying client never observes
// a status that is not yet durably recorded.
func (w *Worker) transition(ctx context.Context, orderID uuid.UUID, status models.Status, extraPatch map[string]interface{}, payload interface{}) error {
	patch := map[string]interface{}{"status": status}
	for k, v := range extraPatch {
		patch[k] = v
	}
	if err := w.store.UpdateOrder(ctx, orderID, patch); err != nil {
		return err
	}
	if err := w.store.AppendEvent(ctx, orderID, status, payload); err != nil {
		return err
	}
	return w.bcast.Publish(ctx, orderID.String(), status, payload)
}
