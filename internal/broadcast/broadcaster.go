// Package broadcast publishes order status transitions to a per-order redis
// channel, maintains a last-known-status cache, and serves historical
// replay from the event log.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/pkg/models"
)

// StatusEvent is the wire shape of a status update. The shape is identical
// whether replayed or live; replayed events additionally carry replay:true
// inside Data.
type StatusEvent struct {
	OrderID string        `json:"orderId"`
	Status  models.Status `json:"status"`
	At      time.Time     `json:"at"`
	Data    interface{}   `json:"data,omitempty"`
}

// EventLister reads an order's historical event log. Replay always goes to
// the log, never to the last-value cache.
type EventLister interface {
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)
}

// Broadcaster is the single writer of status events. The worker publishes
// every transition and retry notification through it.
type Broadcaster struct {
	rdb    redis.UniversalClient
	events EventLister
	logger *zap.Logger
}

// New creates a Broadcaster on the shared redis handle.
func New(rdb redis.UniversalClient, events EventLister, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, events: events, logger: logger}
}

// StatusChannel names the pub/sub channel carrying one order's updates.
func StatusChannel(orderID string) string {
	return "order:status:" + orderID
}

func cacheKey(orderID string) string {
	return "order:" + orderID
}

// Publish emits a timestamped event on the order's channel and refreshes
// the last-known-status cache. Callers persist the transition before
// publishing, so subscribers never observe a status that is not yet durable.
func (b *Broadcaster) Publish(ctx context.Context, orderID string, status models.Status, data interface{}) error {
	evt := StatusEvent{
		OrderID: orderID,
		Status:  status,
		At:      time.Now().UTC(),
		Data:    data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := b.rdb.Publish(ctx, StatusChannel(orderID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s for order %s: %w", status, orderID, err)
	}

	// Best-effort cache refresh; losing it never breaks correctness.
	if err := b.rdb.HSet(ctx, cacheKey(orderID),
		"status", string(status),
		"updatedAt", evt.At.Format(time.RFC3339Nano),
	).Err(); err != nil {
		b.logger.Warn("status cache update failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return nil
}

// Replay returns the order's full historical event sequence in insertion
// order, each tagged replay:true inside data.
func (b *Broadcaster) Replay(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error) {
	events, err := b.events.ListEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}

	out := make([]StatusEvent, 0, len(events))
	for _, e := range events {
		data := map[string]interface{}{"replay": true}
		if len(e.Payload) > 0 {
			var fields map[string]interface{}
			if err := json.Unmarshal(e.Payload, &fields); err == nil {
				for k, v := range fields {
					data[k] = v
				}
			}
		}
		out = append(out, StatusEvent{
			OrderID: orderID.String(),
			Status:  e.Status,
			At:      e.CreatedAt,
			Data:    data,
		})
	}
	return out, nil
}

// Subscribe opens a dedicated subscription to the order's channel. The
// caller owns the returned handle and must Close it on disconnect.
func (b *Broadcaster) Subscribe(ctx context.Context, orderID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, StatusChannel(orderID))
}

// LastStatus reads the last-value cache. Best effort only: an empty result
// means the cache was lost or never written, not that the order is unknown.
func (b *Broadcaster) LastStatus(ctx context.Context, orderID string) (map[string]string, error) {
	return b.rdb.HGetAll(ctx, cacheKey(orderID)).Result()
}
