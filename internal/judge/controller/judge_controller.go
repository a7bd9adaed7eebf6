package controller

import (
	"strconv"

	"algoforge/internal/judge/repository"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeController handles judge status requests.
type JudgeController struct {
	repo *repository.StatusRepository
}

// NewJudgeController creates a new controller.
func NewJudgeController(repo *repository.StatusRepository) *JudgeController {
	return &JudgeController{repo: repo}
}

// GetStatus returns live judge status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || submissionID <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.repo.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}
