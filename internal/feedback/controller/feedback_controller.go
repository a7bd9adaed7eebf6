package controller

import (
	"strconv"

	"algoforge/internal/feedback/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// FeedbackController handles submission feedback endpoints.
type FeedbackController struct {
	feedbackService *service.FeedbackService
}

// NewFeedbackController creates a new FeedbackController.
func NewFeedbackController(feedbackService *service.FeedbackService) *FeedbackController {
	return &FeedbackController{feedbackService: feedbackService}
}

// GetFeedback returns advice for one of the caller's submissions.
func (h *FeedbackController) GetFeedback(c *gin.Context) {
	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || submissionID <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	feedback, err := h.feedbackService.GetFeedback(c.Request.Context(), submissionID, c.GetInt64("user_id"), c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, feedback)
}
