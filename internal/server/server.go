// Package server is the thin transport boundary: order submission, reads,
// and the live status subscription. All execution logic lives behind the
// job queue; submitters only ever see HTTP errors at submission/read time.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/internal/broadcast"
	"github.com/dexlab/swapexec/internal/config"
	"github.com/dexlab/swapexec/internal/store"
	"github.com/dexlab/swapexec/pkg/models"
)

// Enqueuer is the job queue seam the submission handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) error
}

// StatusStream is what the transport needs from the status broadcaster.
type StatusStream interface {
	Publish(ctx context.Context, orderID string, status models.Status, data interface{}) error
	Replay(ctx context.Context, orderID uuid.UUID) ([]broadcast.StatusEvent, error)
	Subscribe(ctx context.Context, orderID string) *redis.PubSub
	LastStatus(ctx context.Context, orderID string) (map[string]string, error)
}

// Server hosts the HTTP API.
type Server struct {
	store  store.Store
	queue  Enqueuer
	bcast  StatusStream
	logger *zap.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New wires the API onto its collaborators and builds the gin engine.
func New(cfg config.ServerConfig, st store.Store, queue Enqueuer, bcast StatusStream, logger *zap.Logger) *Server {
	s := &Server{
		store:  st,
		queue:  queue,
		bcast:  bcast,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.POST("/orders/execute", s.executeOrder)
		api.GET("/orders/execute", s.streamOrder)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/orders/:id/status", s.getOrderStatus)
		api.GET("/orders/:id/events", s.listOrderEvents)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
