package controllers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/lakhoreJanvi/product-importer-project/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxChunkSize bounds a single uploaded chunk.
const DefaultMaxChunkSize = 10 * 1024 * 1024 // 10MB

// ChunkUploadRequest is the multipart form of POST /upload/chunk.
type ChunkUploadRequest struct {
	UploadID    string `form:"uploadId" validate:"required,max=128"`
	ChunkIndex  *int   `form:"chunkIndex" validate:"required,gte=0"`
	TotalChunks int    `form:"totalChunks" validate:"required,gt=0"`
}

// FinalizeRequest is the JSON body of POST /upload/finalize.
type FinalizeRequest struct {
	UploadID    string `json:"uploadId" validate:"required,max=128"`
	TotalChunks int    `json:"totalChunks" validate:"gte=0"`
}

// RequestValidator handles all input validation
type RequestValidator struct {
	validate     *validator.Validate
	maxChunkSize int64
}

func NewRequestValidator(maxChunkSize int64) *RequestValidator {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &RequestValidator{
		validate:     validator.New(),
		maxChunkSize: maxChunkSize,
	}
}

// ParseChunkUpload validates the chunk form and returns the chunk file.
func (rv *RequestValidator) ParseChunkUpload(c *gin.Context) (ChunkUploadRequest, *multipart.FileHeader, error) {
	var req ChunkUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		return req, nil, fmt.Errorf("invalid form data: %w", err)
	}
	req.UploadID = strings.TrimSpace(req.UploadID)
	if err := rv.validate.Struct(&req); err != nil {
		return req, nil, fmt.Errorf("validation failed: %w", err)
	}
	if !repository.ValidUploadID(req.UploadID) {
		return req, nil, errors.New("uploadId may only contain letters, digits, '-' and '_'")
	}

	file, err := c.FormFile("chunk")
	if err != nil {
		return req, nil, errors.New("chunk file is required")
	}
	if file.Size > rv.maxChunkSize {
		return req, nil, errChunkTooLarge
	}
	return req, file, nil
}

// ParseFinalize validates the finalize body.
func (rv *RequestValidator) ParseFinalize(c *gin.Context) (FinalizeRequest, error) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	req.UploadID = strings.TrimSpace(req.UploadID)
	if err := rv.validate.Struct(&req); err != nil {
		return req, fmt.Errorf("validation failed: %w", err)
	}
	if !repository.ValidUploadID(req.UploadID) {
		return req, errors.New("uploadId may only contain letters, digits, '-' and '_'")
	}
	return req, nil
}

// ParseJobID reads the :id path parameter.
func (rv *RequestValidator) ParseJobID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid job id")
	}
	return id, nil
}

var errChunkTooLarge = errors.New("chunk too large")
