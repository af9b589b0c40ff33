// Package store persists orders and their append-only event log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dexlab/swapexec/pkg/models"
)

// ErrNotFound is returned when an order id is unknown.
var ErrNotFound = errors.New("order not found")

// Store is the narrow CRUD contract the pipeline runs against. Orders are
// created once by the submission API and mutated only by the worker; events
// are append-only.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error
	AppendEvent(ctx context.Context, orderID uuid.UUID, status models.Status, payload interface{}) error
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)
}

// GormStore implements Store on gorm.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a gorm-backed store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// CreateOrder inserts a new order row.
func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order %s: %w", order.ID, err)
	}
	return nil
}

// GetOrder loads an order by id.
func (s *GormStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

// UpdateOrder applies a partial update. gorm bumps updated_at on its own.
func (s *GormStore) UpdateOrder(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent adds one entry to the order's audit log.
func (s *GormStore) AppendEvent(ctx context.Context, orderID uuid.UUID, status models.Status, payload interface{}) error {
	raw, err := models.MarshalPayload(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event payload: %w", status, err)
	}
	event := &models.OrderEvent{
		OrderID: orderID,
		Status:  status,
		Payload: raw,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append %s event for order %s: %w", status, orderID, err)
	}
	return nil
}

// ListEvents returns the order's full event log in insertion order.
func (s *GormStore) ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events for order %s: %w", orderID, err)
	}
	return events, nil
}
