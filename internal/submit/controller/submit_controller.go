package controller

import (
	"strconv"
	"strings"
	"time"

	"algoforge/internal/judge/model"
	"algoforge/internal/submit/repository"
	"algoforge/internal/submit/service"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	submissionID, status, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:      req.ProblemID,
		UserID:         c.GetInt64("user_id"),
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		IdempotencyKey: idempotencyKey,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, SubmitResponse{
		SubmissionID: submissionID,
		Status:       string(status.Status),
		ReceivedAt:   status.ReceivedAt,
	})
}

// GetStatus returns live judge status for one submission.
func (h *SubmitController) GetStatus(c *gin.Context) {
	submissionID, ok := submissionIDParam(c)
	if !ok {
		return
	}
	status, err := h.submitService.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Get returns one submission record.
func (h *SubmitController) Get(c *gin.Context) {
	submissionID, ok := submissionIDParam(c)
	if !ok {
		return
	}
	submission, err := h.submitService.GetSubmission(c.Request.Context(), submissionID, c.GetInt64("user_id"), c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission))
}

// List returns the caller's submission history.
func (h *SubmitController) List(c *gin.Context) {
	var req ListSubmissionsRequest
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
		UserID:    req.UserID,
		ProblemID: req.ProblemID,
		Status:    req.Status,
		Language:  req.Language,
		Page:      req.Page,
		PageSize:  req.PageSize,
	}
	submissions, total, err := h.submitService.ListSubmissions(c.Request.Context(), filter, c.GetInt64("user_id"), c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, toSubmissionResponse(submission))
	}
	response.SuccessWithPagination(c, items, total, req.Page, req.PageSize)
}

// GetSource returns submission source code.
func (h *SubmitController) GetSource(c *gin.Context) {
	submissionID, ok := submissionIDParam(c)
	if !ok {
		return
	}
	source, err := h.submitService.GetSource(c.Request.Context(), submissionID, c.GetInt64("user_id"), c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SourceResponse{
		SubmissionID: submissionID,
		SourceCode:   source,
	})
}

func submissionIDParam(c *gin.Context) (int64, bool) {
	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || submissionID <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return 0, false
	}
	return submissionID, true
}

func toSubmissionResponse(submission *repository.Submission) SubmissionResponse {
	resp := SubmissionResponse{
		SubmissionID: submission.ID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		Language:     submission.Language,
		Status:       submission.Status,
		Verdict:      submission.Verdict,
		TimeUsedMS:   submission.TimeUsedMS,
		MemoryUsedKB: submission.MemoryUsedKB,
		FailedTest:   submission.FailedTest,
		TestResults:  submission.TestResults,
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
	}
	if submission.FinishedAt != nil {
		resp.FinishedAt = submission.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
	ReceivedAt   int64  `json:"received_at"`
}

// ListSubmissionsRequest defines submission history query parameters.
type ListSubmissionsRequest struct {
	UserID    int64  `form:"user_id"`
	ProblemID int64  `form:"problem_id"`
	Status    string `form:"status"`
	Language  string `form:"language"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// SubmissionResponse defines one submission record payload.
type SubmissionResponse struct {
	SubmissionID int64                  `json:"submission_id"`
	ProblemID    int64                  `json:"problem_id"`
	UserID       int64                  `json:"user_id"`
	Language     string                 `json:"language"`
	Status       string                 `json:"status"`
	Verdict      string                 `json:"verdict,omitempty"`
	TimeUsedMS   int64                  `json:"time_used_ms"`
	MemoryUsedKB int64                  `json:"memory_used_kb"`
	FailedTest   int32                  `json:"failed_test,omitempty"`
	TestResults  []model.TestCaseResult `json:"test_results,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	FinishedAt   string                 `json:"finished_at,omitempty"`
}

// SourceResponse defines source query response payload.
type SourceResponse struct {
	SubmissionID int64  `json:"submission_id"`
	SourceCode   string `json:"source_code"`
}
