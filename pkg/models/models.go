// Package models defines the persisted and wire-level types shared across
// the execution pipeline: orders, their append-only event log, venue quotes
// and execution results.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. The happy path is strictly
// ordered: pending -> routing -> building -> submitted -> confirmed.
// failed is reachable from any non-terminal state. retrying is a transient
// notification between attempts and is never written to orders.status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// OrderTypeMarket is the only supported order type.
const OrderTypeMarket = "MARKET"

// Order is the durable record of a swap order. The intent fields (type,
// token pair, amount, slippage) are immutable after creation; the execution
// fields are written only by the order worker. Rows are never deleted.
type Order struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Type          string           `gorm:"not null" json:"type"`
	TokenIn       string           `gorm:"not null" json:"tokenIn"`
	TokenOut      string           `gorm:"not null" json:"tokenOut"`
	AmountIn      decimal.Decimal  `gorm:"type:numeric;not null" json:"amountIn"`
	SlippageBps   int              `gorm:"not null" json:"slippageBps"`
	Status        Status           `gorm:"not null;index" json:"status"`
	ChosenDex     *string          `json:"chosenDex,omitempty"`
	ExpectedPrice *decimal.Decimal `gorm:"type:numeric" json:"expectedPrice,omitempty"`
	TxHash        *string          `json:"txHash,omitempty"`
	ExecutedPrice *decimal.Decimal `gorm:"type:numeric" json:"executedPrice,omitempty"`
	Error         *string          `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// OrderEvent is one entry of an order's append-only audit log. Seq is the
// insertion order; replaying events by Seq reconstructs every transition
// exactly once. Events are never mutated or deleted.
type OrderEvent struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	OrderID   uuid.UUID `gorm:"type:uuid;index;not null" json:"orderId"`
	Status    Status    `gorm:"not null" json:"status"`
	Payload   JSONB     `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Quote is a venue's offer for a token pair: output units per one input
// unit, with the venue fee as a 0..1 fraction. Quotes are ephemeral and
// persisted only inside OrderEvent payloads.
type Quote struct {
	Venue string          `json:"dex"`
	Price decimal.Decimal `json:"price"`
	Fee   decimal.Decimal `json:"fee"`
}

// Net returns the fee-adjusted price used to rank venues.
func (q Quote) Net() decimal.Decimal {
	return q.Price.Mul(decimal.NewFromInt(1).Sub(q.Fee))
}

// ExecutionResult is what the execution gateway returns for a submitted swap.
type ExecutionResult struct {
	TxHash        string          `json:"txHash"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
}

// JSONB stores raw JSON in a jsonb column.
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// MarshalJSON emits the stored document verbatim.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores the document verbatim.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	if j == nil {
		return errors.New("models.JSONB: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[:0], data...)
	return nil
}
