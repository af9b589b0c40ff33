package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamOrder upgrades GET /api/orders/execute?orderId= to a live status
// subscription. Protocol: replay the full historical event log in insertion
// order first, then open the live subscription and forward every published
// event verbatim. Because replay completes before the subscription opens,
// an event published after the replay snapshot is observed at least once;
// an event published during replay may be delivered twice. Clients dedupe
// by (orderId, status, at).
func (s *Server) streamOrder(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The server's write deadline was armed before the hijack; this
	// connection is long-lived.
	_ = conn.UnderlyingConn().SetDeadline(time.Time{})

	rawID := c.Query("orderId")
	if rawID == "" {
		_ = conn.WriteJSON(gin.H{"error": "orderId query param required"})
		return
	}
	orderID, err := uuid.Parse(rawID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "orderId must be a valid uuid"})
		return
	}

	ctx := c.Request.Context()
	log := s.logger.With(zap.String("order_id", rawID))

	// Step one: full historical replay, in insertion order.
	history, err := s.bcast.Replay(ctx, orderID)
	if err != nil {
		log.Error("replay failed", zap.Error(err))
		_ = conn.WriteJSON(gin.H{"error": "failed to replay order events"})
		return
	}
	for _, evt := range history {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}

	// Step two: dedicated live subscription, released on disconnect.
	sub := s.bcast.Subscribe(ctx, rawID)
	defer sub.Close()

	// Drain client frames so closes and pings are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug("live subscription opened")
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}
