package controller

import (
	"strconv"

	"algoforge/internal/stats/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// StatsController handles statistics and leaderboard HTTP endpoints.
type StatsController struct {
	statsService *service.StatsService
}

// NewStatsController creates a new StatsController.
func NewStatsController(statsService *service.StatsService) *StatsController {
	return &StatsController{statsService: statsService}
}

// GetUserStats returns aggregate statistics for one user.
func (h *StatsController) GetUserStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return
	}
	stats, err := h.statsService.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// GetMyStats returns aggregate statistics for the caller.
func (h *StatsController) GetMyStats(c *gin.Context) {
	stats, err := h.statsService.GetUserStats(c.Request.Context(), c.GetInt64("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// GetProblemStats returns submission aggregates for one problem.
func (h *StatsController) GetProblemStats(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	stats, err := h.statsService.GetProblemStats(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// GetLeaderboard returns the solved-count leaderboard.
func (h *StatsController) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
	entries, err := h.statsService.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}
