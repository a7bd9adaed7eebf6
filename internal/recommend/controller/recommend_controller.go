package controller

import (
	"strconv"

	"algoforge/internal/recommend/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RecommendController handles practice recommendation endpoints.
type RecommendController struct {
	recommendService *service.RecommendService
}

// NewRecommendController creates a new RecommendController.
func NewRecommendController(recommendService *service.RecommendService) *RecommendController {
	return &RecommendController{recommendService: recommendService}
}

// Recommend returns suggested problems for the caller.
func (h *RecommendController) Recommend(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	items, err := h.recommendService.Recommend(c.Request.Context(), c.GetInt64("user_id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}
