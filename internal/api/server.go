// Package api exposes the REST surface, the SSE event stream and the
// websocket feed of the paper-trading engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"paper-trader/config"
	"paper-trader/internal/database"
	"paper-trader/internal/engine"
)

// Server wires the HTTP surface over the engine and the repository.
type Server struct {
	cfg    config.ServerConfig
	repo   *database.Repository
	engine *engine.Engine
	live   *database.LiveState
	logger zerolog.Logger
	hub    *wsHub
	http   *http.Server
}

// NewServer builds the router. live may be nil when Redis is disabled.
func NewServer(cfg config.ServerConfig, repo *database.Repository, eng *engine.Engine, live *database.LiveState, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		repo:   repo,
		engine: eng,
		live:   live,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.hub = newWSHub(eng.Bus(), s.logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/traders", s.handleCreateTrader)
		apiGroup.GET("/traders", s.handleListTraders)
		apiGroup.GET("/traders/:id", s.handleGetTrader)
		apiGroup.PUT("/traders/:id", s.handleUpdateTrader)
		apiGroup.DELETE("/traders/:id", s.handleDeleteTrader)

		apiGroup.POST("/traders/:id/start", s.handleStartTrader)
		apiGroup.POST("/traders/:id/stop", s.handleStopTrader)
		apiGroup.POST("/traders/:id/pause", s.handlePauseTrader)
		apiGroup.POST("/traders/:id/resume", s.handleResumeTrader)

		apiGroup.GET("/traders/:id/decisions", s.handleListDecisions)
		apiGroup.GET("/traders/:id/reports", s.handleListReports)
		apiGroup.GET("/traders/:id/personality", s.handleGetPersonality)
		apiGroup.GET("/traders/:id/portfolio", s.handleGetPortfolio)
		apiGroup.GET("/traders/:id/weights", s.handleListWeightHistory)
		apiGroup.POST("/traders/:id/learn", s.handleTriggerLearning)

		apiGroup.POST("/positions/:id/close", s.handleClosePosition)

		apiGroup.GET("/events/stream", s.handleEventStream)
		apiGroup.GET("/ws", s.handleWebsocket)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.hub.start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.stop()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": s.engine.Bus().SubscriberCount(),
		"time":        time.Now().UTC(),
	})
}
