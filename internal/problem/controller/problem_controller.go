package controller

import (
	"strconv"
	"time"

	"algoforge/internal/problem/repository"
	"algoforge/internal/problem/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController handles problem catalog HTTP endpoints.
type ProblemController struct {
	problemService *service.ProblemService
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problemService *service.ProblemService) *ProblemController {
	return &ProblemController{problemService: problemService}
}

// Create handles problem creation.
func (h *ProblemController) Create(c *gin.Context) {
	var req CreateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	id, err := h.problemService.CreateProblem(c.Request.Context(), service.CreateInput{
		Title:         req.Title,
		Description:   req.Description,
		Difficulty:    req.Difficulty,
		Tags:          req.Tags,
		TimeLimitMS:   req.TimeLimitMS,
		MemoryLimitMB: req.MemoryLimitMB,
		TestCases:     toTestCases(req.TestCases),
		OwnerID:       c.GetInt64("user_id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, CreateProblemResponse{ID: id})
}

// Update handles problem metadata edits.
func (h *ProblemController) Update(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	var req UpdateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	err := h.problemService.UpdateProblem(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), service.UpdateInput{
		Title:         req.Title,
		Description:   req.Description,
		Difficulty:    req.Difficulty,
		Tags:          req.Tags,
		TimeLimitMS:   req.TimeLimitMS,
		MemoryLimitMB: req.MemoryLimitMB,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Update success", nil)
}

// ReplaceTestCases handles replacing the full test case set of a problem.
func (h *ProblemController) ReplaceTestCases(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	var req ReplaceTestCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	err := h.problemService.ReplaceTestCases(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), toTestCases(req.TestCases))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Test cases updated", nil)
}

// Publish handles moving a draft problem to published.
func (h *ProblemController) Publish(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	if err := h.problemService.PublishProblem(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role")); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Publish success", nil)
}

// Get handles a single problem query.
func (h *ProblemController) Get(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	problem, err := h.problemService.GetProblem(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toProblemResponse(problem))
}

// List handles paginated problem catalog queries.
func (h *ProblemController) List(c *gin.Context) {
	var req ListProblemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	filter := repository.ListFilter{
		Difficulty: req.Difficulty,
		Tag:        req.Tag,
		Keyword:    req.Keyword,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}

	problems, total, err := h.problemService.ListProblems(c.Request.Context(), filter, c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]ProblemSummary, 0, len(problems))
	for _, problem := range problems {
		items = append(items, ProblemSummary{
			ID:         problem.ID,
			Title:      problem.Title,
			Difficulty: problem.Difficulty,
			Tags:       problem.Tags,
			Status:     problem.Status,
		})
	}

	response.SuccessWithPagination(c, items, total, req.Page, req.PageSize)
}

// Delete handles problem deletion.
func (h *ProblemController) Delete(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	if err := h.problemService.DeleteProblem(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role")); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Delete success", nil)
}

func problemIDParam(c *gin.Context) (int64, bool) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return 0, false
	}
	return problemID, true
}

func toTestCases(cases []TestCasePayload) []repository.TestCase {
	out := make([]repository.TestCase, 0, len(cases))
	for _, tc := range cases {
		out = append(out, repository.TestCase{
			Input:    tc.Input,
			Expected: tc.Expected,
			IsSample: tc.IsSample,
		})
	}
	return out
}

func toProblemResponse(problem *repository.Problem) ProblemResponse {
	return ProblemResponse{
		ID:            problem.ID,
		Title:         problem.Title,
		Description:   problem.Description,
		Difficulty:    problem.Difficulty,
		Tags:          problem.Tags,
		TimeLimitMS:   problem.TimeLimitMS,
		MemoryLimitMB: problem.MemoryLimitMB,
		Status:        problem.Status,
		TestCaseCount: problem.TestCaseCount,
		CreatedAt:     problem.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     problem.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// TestCasePayload defines one test case in authoring payloads.
type TestCasePayload struct {
	Input    string `json:"input"`
	Expected string `json:"expected" binding:"required"`
	IsSample bool   `json:"is_sample"`
}

// CreateProblemRequest defines problem creation payload.
type CreateProblemRequest struct {
	Title         string            `json:"title" binding:"required"`
	Description   string            `json:"description"`
	Difficulty    string            `json:"difficulty" binding:"required"`
	Tags          []string          `json:"tags"`
	TimeLimitMS   int32             `json:"time_limit_ms"`
	MemoryLimitMB int32             `json:"memory_limit_mb"`
	TestCases     []TestCasePayload `json:"test_cases"`
}

// UpdateProblemRequest defines problem edit payload.
type UpdateProblemRequest struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	Difficulty    string   `json:"difficulty" binding:"required"`
	Tags          []string `json:"tags"`
	TimeLimitMS   int32    `json:"time_limit_ms" binding:"required"`
	MemoryLimitMB int32    `json:"memory_limit_mb" binding:"required"`
}

// ReplaceTestCasesRequest defines the test case replacement payload.
type ReplaceTestCasesRequest struct {
	TestCases []TestCasePayload `json:"test_cases" binding:"required"`
}

// ListProblemsRequest defines catalog query parameters.
type ListProblemsRequest struct {
	Difficulty string `form:"difficulty"`
	Tag        string `form:"tag"`
	Keyword    string `form:"keyword"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// CreateProblemResponse defines problem creation response payload.
type CreateProblemResponse struct {
	ID int64 `json:"id"`
}

// ProblemSummary is one row of a catalog listing.
type ProblemSummary struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Tags       []string `json:"tags"`
	Status     int32    `json:"status"`
}

// ProblemResponse defines the full problem detail payload.
type ProblemResponse struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Difficulty    string   `json:"difficulty"`
	Tags          []string `json:"tags"`
	TimeLimitMS   int32    `json:"time_limit_ms"`
	MemoryLimitMB int32    `json:"memory_limit_mb"`
	Status        int32    `json:"status"`
	TestCaseCount int32    `json:"test_case_count"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}
