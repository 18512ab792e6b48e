// Package http exposes the relay's operational API: health, readiness,
// metrics, per-feed statistics, and a manual retention sweep.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/incident-feed-relay/internal/domain"
	"github.com/couchcryptid/incident-feed-relay/internal/store"
)

// StoreStatus is the slice of the seen store the API needs.
type StoreStatus interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context, feedKind string) (store.FeedState, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int64, error)
}

// SenderStatus reports the delivery queue's condition.
type SenderStatus interface {
	Running() bool
	QueueDepth() int
}

// FeedStatus is one feed's poller surface.
type FeedStatus interface {
	Kind() string
	Running() bool
	Tracker() *domain.Tracker
}

// Server wraps the gin engine behind a Start/Shutdown lifecycle pair.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	store   StoreStatus
	sender  SenderStatus
	feeds   []FeedStatus
	sweep   time.Duration
	version string
}

// NewServer builds the API server. sweepAge is the default retention used by
// POST /cleanup when no days parameter is given.
func NewServer(addr string, st StoreStatus, sender SenderStatus, feeds []FeedStatus,
	sweepAge time.Duration, version string, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:  logger,
		store:   st,
		sender:  sender,
		feeds:   feeds,
		sweep:   sweepAge,
		version: version,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleRoot)
	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/stats", s.handleStats)
	r.POST("/cleanup", s.handleCleanup)
	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "incident-feed-relay",
		"version": s.version,
		"endpoints": gin.H{
			"health":  "/healthz",
			"ready":   "/readyz",
			"metrics": "/metrics",
			"stats":   "/stats",
			"cleanup": "/cleanup (POST, optional ?days=N)",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleReady reports 503 until every component is up: the database
// reachable, the sender draining, and each poller looping.
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if s.sender.Running() {
		checks["sender"] = "ok"
	} else {
		checks["sender"] = "not running"
		ready = false
	}

	for _, feed := range s.feeds {
		key := "poller_" + feed.Kind()
		if feed.Running() {
			checks[key] = "ok"
		} else {
			checks[key] = "not running"
			ready = false
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (s *Server) handleStats(c *gin.Context) {
	feeds := gin.H{}
	for _, feed := range s.feeds {
		state, err := s.store.Stats(c.Request.Context(), feed.Kind())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		feeds[feed.Kind()] = gin.H{
			"polling":  state,
			"tracking": feed.Tracker().Stats(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":   s.version,
		"retention": s.sweep.String(),
		"feeds":     feeds,
		"delivery": gin.H{
			"running":     s.sender.Running(),
			"queue_depth": s.sender.QueueDepth(),
		},
	})
}

// handleCleanup triggers a retention sweep. An explicit ?days=N overrides the
// configured retention for this one sweep.
func (s *Server) handleCleanup(c *gin.Context) {
	maxAge := s.sweep
	if raw := c.Query("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		maxAge = time.Duration(days) * 24 * time.Hour
	}

	removed, err := s.store.Sweep(c.Request.Context(), maxAge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
		"max_age": maxAge.String(),
	})
}
