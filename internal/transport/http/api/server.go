// Package apihttp exposes the engine over HTTP: order submission and
// lifecycle queries, broker health, positions and the venue event webhook.
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartroute/internal/broker"
	"smartroute/internal/exec"
	"smartroute/internal/logger"
)

// OrderService is the slice of the coordinator the transport needs.
type OrderService interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (exec.OrderSnapshot, error)
	CancelOrder(ctx context.Context, orderID string) (exec.OrderSnapshot, error)
	GetOrder(orderID string) (exec.OrderSnapshot, error)
	ListOrders() []exec.OrderSnapshot
	HandleBrokerEvent(evt broker.FillEvent)
}

type ServerConfig struct {
	Addr      string
	Orders    OrderService
	Brokers   BrokerDirectory
	Positions PositionReader
}

type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orders == nil {
		return nil, errors.New("api server requires an order service")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := NewRouter(cfg.Orders, cfg.Brokers, cfg.Positions)
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the mux for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}
