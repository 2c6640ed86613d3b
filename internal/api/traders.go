package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"paper-trader/internal/database"
)

type createTraderRequest struct {
	Name          string                `json:"name" binding:"required"`
	BrokerProfile string                `json:"broker_profile"`
	Personality   *database.Personality `json:"personality"`
}

func (s *Server) handleCreateTrader(c *gin.Context) {
	var req createTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	personality := database.DefaultPersonality()
	if req.Personality != nil {
		personality = *req.Personality
	}
	if err := personality.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid personality: " + err.Error()})
		return
	}
	if req.BrokerProfile == "" {
		req.BrokerProfile = "default"
	}

	trader := &database.Trader{Name: req.Name, Personality: personality}
	portfolio, err := s.repo.CreateTrader(c.Request.Context(), trader, req.BrokerProfile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trader": trader, "portfolio": portfolio})
}

func (s *Server) handleListTraders(c *gin.Context) {
	traders, err := s.repo.ListTraders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders})
}

func (s *Server) traderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	trader, err := s.repo.GetTrader(c.Request.Context(), id)
	if err != nil {
		s.notFoundOrError(c, err)
		return
	}

	response := gin.H{"trader": trader}
	if s.live != nil {
		if status, err := s.live.Get(c.Request.Context(), id); err == nil && status != nil {
			response["live"] = status
		}
	}
	c.JSON(http.StatusOK, response)
}

type updateTraderRequest struct {
	Personality *database.Personality `json:"personality"`
}

func (s *Server) handleUpdateTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	var req updateTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Personality == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "personality required"})
		return
	}
	if err := req.Personality.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid personality: " + err.Error()})
		return
	}
	if err := s.repo.UpdateTraderPersonality(c.Request.Context(), id, *req.Personality); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handleDeleteTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	// Make sure the worker is gone before the rows are.
	if err := s.engine.StopTrader(c.Request.Context(), id); err != nil && !errors.Is(err, database.ErrTraderNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.repo.DeleteTrader(c.Request.Context(), id); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleStartTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	if err := s.engine.StartTrader(c.Request.Context(), id); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) handleStopTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	if err := s.engine.StopTrader(c.Request.Context(), id); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handlePauseTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	if err := s.engine.PauseTrader(c.Request.Context(), id); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) handleResumeTrader(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	if err := s.engine.ResumeTrader(c.Request.Context(), id); err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) notFoundOrError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrTraderNotFound),
		errors.Is(err, database.ErrPortfolioNotFound),
		errors.Is(err, database.ErrPositionNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrDecisionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
