// Package server is the HTTP surface: the dashboard websocket endpoint,
// the subscription intake, historical bar backfill and a health probe.
package server

import (
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quantrail/barstream/internal/bars"
	"github.com/quantrail/barstream/internal/hub"
	"github.com/quantrail/barstream/internal/subs"
)

// Resolver maps human-readable symbols to instrument keys. Implemented by
// instruments.Catalog.
type Resolver interface {
	Resolve(symbol string) (string, bool)
}

// BarReader loads persisted bars for backfill. Implemented by
// store.BarStore.
type BarReader interface {
	LoadDay(instrumentKey string, day civil.Date) ([]bars.Bar, error)
}

// Server wires the HTTP routes to the hub, the pending-subscription
// mailbox and the bar store.
type Server struct {
	logger  *zap.Logger
	hub     *hub.Hub
	pending *subs.PendingQueue
	catalog Resolver
	store   BarReader
}

func New(logger *zap.Logger, h *hub.Hub, pending *subs.PendingQueue, catalog Resolver, store BarReader) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:  logger,
		hub:     h,
		pending: pending,
		catalog: catalog,
		store:   store,
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthHandler)
	r.GET("/ws", s.wsHandler)

	api := r.Group("/api")
	api.POST("/subscribe", s.subscribeHandler)
	api.GET("/bars", s.barsHandler)

	return r
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Len()})
}

// subscribeHandler queues a symbol for the feed's next subscription poll.
// The response only acknowledges intake; whether the symbol is known is
// decided against the instrument catalog first, so typos fail loudly here
// instead of silently in the poller.
func (s *Server) subscribeHandler(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.catalog.Resolve(req.Symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": req.Symbol})
		return
	}
	if !s.pending.Enqueue(req.Symbol) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "symbol": req.Symbol})
}

type barResponse struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

func (s *Server) barsHandler(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	key, ok := s.catalog.Resolve(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": symbol})
		return
	}
	day, err := civil.ParseDate(c.Query("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}

	loaded, err := s.store.LoadDay(key, day)
	if err != nil {
		s.logger.Error("loading bars failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "loading bars failed"})
		return
	}

	out := make([]barResponse, 0, len(loaded))
	for _, b := range loaded {
		out = append(out, barResponse{
			Timestamp: b.BucketStart.UTC().Format(time.RFC3339),
			Open:      b.Open.InexactFloat64(),
			High:      b.High.InexactFloat64(),
			Low:       b.Low.InexactFloat64(),
			Close:     b.Close.InexactFloat64(),
			Volume:    b.Volume,
		})
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "day": day.String(), "bars": out})
}
