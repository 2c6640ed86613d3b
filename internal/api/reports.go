package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func limitParam(c *gin.Context, fallback int) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Server) handleListDecisions(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	decisions, err := s.repo.ListDecisions(c.Request.Context(), id, limitParam(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleListReports(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	reports, err := s.repo.ListDailyReports(c.Request.Context(), id, limitParam(c, 30))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) handleGetPersonality(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	trader, err := s.repo.GetTrader(c.Request.Context(), id)
	if err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"personality": trader.Personality})
}

func (s *Server) handleGetPortfolio(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	portfolio, err := s.repo.GetPortfolioByTrader(c.Request.Context(), id)
	if err != nil {
		s.notFoundOrError(c, err)
		return
	}
	positions, err := s.repo.ListOpenPositions(c.Request.Context(), portfolio.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	orders, err := s.repo.ListPendingOrders(c.Request.Context(), portfolio.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio": portfolio,
		"positions": positions,
		"orders":    orders,
	})
}

func (s *Server) handleListWeightHistory(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	history, err := s.repo.ListWeightHistory(c.Request.Context(), id, limitParam(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) handleTriggerLearning(c *gin.Context) {
	id, ok := s.traderID(c)
	if !ok {
		return
	}
	result, err := s.engine.RunLearning(c.Request.Context(), id)
	if err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	closed, err := s.engine.ClosePositionManually(c.Request.Context(), id)
	if err != nil {
		s.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": closed})
}
