package handlers

import (
	"net/http"
	"strconv"

	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	stats       *services.StatisticsService
	leaderboard *services.Leaderboard
}

func NewStatisticsHandler(stats *services.StatisticsService, leaderboard *services.Leaderboard) *StatisticsHandler {
	return &StatisticsHandler{stats: stats, leaderboard: leaderboard}
}

func (h *StatisticsHandler) UserStatistics(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	report, err := h.stats.UserReport(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *StatisticsHandler) UserGameStatistics(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	gameID, ok := parseID(c, "gameId")
	if !ok {
		return
	}
	report, err := h.stats.UserGameReport(c.Request.Context(), userID, gameID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *StatisticsHandler) GameStatistics(c *gin.Context) {
	gameID, ok := parseID(c, "gameId")
	if !ok {
		return
	}
	report, err := h.stats.GameReport(c.Request.Context(), gameID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *StatisticsHandler) TopPlayer(c *gin.Context) {
	gameID, ok := parseID(c, "gameId")
	if !ok {
		return
	}
	report, err := h.stats.TopPlayer(c.Request.Context(), gameID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *StatisticsHandler) Leaderboard(c *gin.Context) {
	gameID, ok := parseID(c, "gameId")
	if !ok {
		return
	}

	limit := services.DefaultLeaderboardSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > services.MaxLeaderboardSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit: must be between 1 and " + strconv.Itoa(services.MaxLeaderboardSize),
				"field": "limit",
			})
			return
		}
		limit = n
	}

	report, err := h.leaderboard.Top(c.Request.Context(), gameID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
