package apihttp

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"smartroute/internal/broker"
	binanceadapter "smartroute/internal/broker/binance"
	"smartroute/internal/connection"
	"smartroute/internal/exec"
	"smartroute/internal/position"
)

// BrokerDirectory surfaces connection health for the ops endpoints.
type BrokerDirectory interface {
	All() []connection.Snapshot
	Snapshot(brokerID string) (connection.Snapshot, bool)
}

// PositionReader surfaces the position book.
type PositionReader interface {
	All() []position.Position
	PositionsFor(symbol string) []position.Position
	Consolidated(symbol string) position.Consolidated
}

type Router struct {
	orders    OrderService
	brokers   BrokerDirectory
	positions PositionReader
}

func NewRouter(orders OrderService, brokers BrokerDirectory, positions PositionReader) *Router {
	return &Router{orders: orders, brokers: brokers, positions: positions}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/orders", r.handleSubmitOrder)
	group.GET("/orders", r.handleListOrders)
	group.GET("/orders/:id", r.handleGetOrder)
	group.DELETE("/orders/:id", r.handleCancelOrder)
	if r.brokers != nil {
		group.GET("/brokers", r.handleListBrokers)
		group.GET("/brokers/:id", r.handleGetBroker)
	}
	if r.positions != nil {
		group.GET("/positions", r.handleListPositions)
		group.GET("/positions/:symbol", r.handleConsolidatedPosition)
	}
	group.POST("/brokers/:id/events", r.handleBrokerEvent)
}

func (r *Router) handleSubmitOrder(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	req, err := DecodeOrderRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := r.orders.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		var vErr *exec.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    "risk validation failed",
				"findings": vErr.Findings,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (r *Router) handleListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.orders.ListOrders()})
}

func (r *Router) handleGetOrder(c *gin.Context) {
	snap, err := r.orders.GetOrder(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	snap, err := r.orders.CancelOrder(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, exec.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, exec.ErrOrderTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "order": snap})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, snap)
	}
}

func (r *Router) handleListBrokers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"brokers": r.brokers.All()})
}

func (r *Router) handleGetBroker(c *gin.Context) {
	snap, ok := r.brokers.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown broker"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleListPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.positions.All()})
}

func (r *Router) handleConsolidatedPosition(c *gin.Context) {
	symbol := c.Param("symbol")
	c.JSON(http.StatusOK, gin.H{
		"consolidated": r.positions.Consolidated(symbol),
		"by_broker":    r.positions.PositionsFor(symbol),
	})
}

// handleBrokerEvent ingests a venue push. Binance-shaped executionReports
// are normalized; anything else must already be in the engine's event shape.
func (r *Router) handleBrokerEvent(c *gin.Context) {
	brokerID := c.Param("id")
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var evt broker.FillEvent
	if gjson.GetBytes(body, "e").String() == "executionReport" {
		evt, err = binanceadapter.NormalizeExecutionReport(brokerID, body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		evt, err = DecodeFillEvent(brokerID, body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	r.orders.HandleBrokerEvent(evt)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
