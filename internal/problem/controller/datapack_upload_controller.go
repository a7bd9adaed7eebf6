package controller

import (
	"algoforge/internal/common/storage"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// BeginDataUpload starts a presigned multipart upload of a test data pack.
func (h *ProblemController) BeginDataUpload(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	var req BeginDataUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	upload, err := h.problemService.BeginTestDataUpload(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), req.PackHash)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, DataUploadResponse{
		UploadID:  upload.UploadID,
		ObjectKey: upload.ObjectKey,
	})
}

// PresignDataPart returns a presigned PUT URL for one upload part.
func (h *ProblemController) PresignDataPart(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	var req PresignDataPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	url, err := h.problemService.PresignTestDataPart(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), req.PackHash, c.Param("uploadID"), req.PartNumber)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, PresignDataPartResponse{URL: url})
}

// CompleteDataUpload finishes a multipart upload and attaches the verified
// pack to the problem.
func (h *ProblemController) CompleteDataUpload(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	var req CompleteDataUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	parts := make([]storage.CompletedPart, 0, len(req.Parts))
	for _, part := range req.Parts {
		parts = append(parts, storage.CompletedPart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
	}

	err := h.problemService.CompleteTestDataUpload(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), req.PackHash, c.Param("uploadID"), parts)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Test data uploaded", nil)
}

// AbortDataUpload abandons an in-flight multipart upload.
func (h *ProblemController) AbortDataUpload(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}

	err := h.problemService.AbortTestDataUpload(c.Request.Context(), problemID, c.GetInt64("user_id"), c.GetString("user_role"), c.Query("pack_hash"), c.Param("uploadID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Upload aborted", nil)
}

// BeginDataUploadRequest starts a direct pack upload.
type BeginDataUploadRequest struct {
	PackHash string `json:"pack_hash" binding:"required"`
}

// DataUploadResponse identifies a started pack upload.
type DataUploadResponse struct {
	UploadID  string `json:"upload_id"`
	ObjectKey string `json:"object_key"`
}

// PresignDataPartRequest asks for one part's upload URL.
type PresignDataPartRequest struct {
	PackHash   string `json:"pack_hash" binding:"required"`
	PartNumber int    `json:"part_number" binding:"required"`
}

// PresignDataPartResponse carries one part's upload URL.
type PresignDataPartResponse struct {
	URL string `json:"url"`
}

// UploadedPart is one completed part's number and ETag.
type UploadedPart struct {
	PartNumber int    `json:"part_number" binding:"required"`
	ETag       string `json:"etag" binding:"required"`
}

// CompleteDataUploadRequest finishes a direct pack upload.
type CompleteDataUploadRequest struct {
	PackHash string         `json:"pack_hash" binding:"required"`
	Parts    []UploadedPart `json:"parts" binding:"required"`
}
