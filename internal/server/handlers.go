package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/internal/store"
	"github.com/dexlab/swapexec/pkg/models"
)

// ExecuteOrderRequest is the submission body. Validation happens entirely
// at this boundary; an invalid request never reaches the queue.
type ExecuteOrderRequest struct {
	Type        string  `json:"type" binding:"required,eq=MARKET"`
	TokenIn     string  `json:"tokenIn" binding:"required,min=1"`
	TokenOut    string  `json:"tokenOut" binding:"required,min=1"`
	AmountIn    float64 `json:"amountIn" binding:"required,gt=0"`
	SlippageBps int     `json:"slippageBps" binding:"min=0,max=5000"`
}

func (s *Server) executeOrder(c *gin.Context) {
	var req ExecuteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
		return
	}

	orderID := uuid.New()
	order := &models.Order{
		ID:          orderID,
		Type:        req.Type,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    decimal.NewFromFloat(req.AmountIn),
		SlippageBps: req.SlippageBps,
		Status:      models.StatusPending,
	}

	ctx := c.Request.Context()
	if err := s.store.CreateOrder(ctx, order); err != nil {
		s.logger.Error("order create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	if err := s.queue.Enqueue(ctx, orderID.String()); err != nil {
		s.logger.Error("order enqueue failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue order"})
		return
	}

	// Initial pending event: durable log entry first, then the live channel.
	if err := s.store.AppendEvent(ctx, orderID, models.StatusPending, nil); err != nil {
		s.logger.Error("pending event append failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}
	if err := s.bcast.Publish(ctx, orderID.String(), models.StatusPending, nil); err != nil {
		s.logger.Error("pending publish failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"orderId": orderID.String()})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	order, err := s.store.GetOrder(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		s.logger.Error("order read failed", zap.String("order_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// getOrderStatus is the lightweight status view. The last-value cache is
// best effort, so a cold cache falls back to the persisted row.
func (s *Server) getOrderStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	ctx := c.Request.Context()

	cached, err := s.bcast.LastStatus(ctx, id.String())
	if err != nil {
		s.logger.Warn("status cache read failed", zap.String("order_id", id.String()), zap.Error(err))
	}
	if status, ok := cached["status"]; ok && status != "" {
		c.JSON(http.StatusOK, gin.H{
			"orderId":   id.String(),
			"status":    status,
			"updatedAt": cached["updatedAt"],
			"cached":    true,
		})
		return
	}

	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		s.logger.Error("order read failed", zap.String("order_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderId":   id.String(),
		"status":    order.Status,
		"updatedAt": order.UpdatedAt,
		"cached":    false,
	})
}

func (s *Server) listOrderEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	events, err := s.store.ListEvents(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("event list failed", zap.String("order_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id.String(), "events": events})
}

// fieldErrors flattens binding failures into a field -> constraint map.
func fieldErrors(err error) interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
