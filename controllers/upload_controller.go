package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/lakhoreJanvi/product-importer-project/common/errors"
	"github.com/lakhoreJanvi/product-importer-project/common/logger"
	"github.com/lakhoreJanvi/product-importer-project/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UploadServiceAPI is what the upload endpoints need from the service layer.
type UploadServiceAPI interface {
	StoreChunk(ctx context.Context, uploadID string, index, total int, payload []byte) error
	Finalize(ctx context.Context, uploadID string, totalChunks int) (*models.ImportJob, error)
}

type UploadController struct {
	uploads   UploadServiceAPI
	validator *RequestValidator
}

func NewUploadController(uploads UploadServiceAPI, validator *RequestValidator) *UploadController {
	return &UploadController{uploads: uploads, validator: validator}
}

// UploadChunk stores one chunk of a client upload.
func (uc *UploadController) UploadChunk(c *gin.Context) {
	req, file, err := uc.validator.ParseChunkUpload(c)
	if errors.Is(err, errChunkTooLarge) {
		apperrors.Abort(c, apperrors.ErrTooLarge.Wrap(err))
		return
	}
	if err != nil {
		apperrors.Abort(c, apperrors.ErrValidation.Wrap(err))
		return
	}

	fh, err := file.Open()
	if err != nil {
		apperrors.Abort(c, apperrors.ErrBadRequest.Wrap(err))
		return
	}
	defer fh.Close()

	payload, err := io.ReadAll(io.LimitReader(fh, uc.validator.maxChunkSize+1))
	if err != nil {
		apperrors.Abort(c, apperrors.ErrBadRequest.Wrap(err))
		return
	}
	if int64(len(payload)) > uc.validator.maxChunkSize {
		apperrors.Abort(c, apperrors.ErrTooLarge)
		return
	}

	ctx := c.Request.Context()
	if err := uc.uploads.StoreChunk(ctx, req.UploadID, *req.ChunkIndex, req.TotalChunks, payload); err != nil {
		logger.For(ctx, zap.L()).Error("failed to store chunk",
			zap.String("upload_id", req.UploadID),
			zap.Int("chunk_index", *req.ChunkIndex),
			zap.Error(err),
		)
		apperrors.Abort(c, apperrors.ErrInternalServer.Wrap(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploadId":    req.UploadID,
		"chunkIndex":  *req.ChunkIndex,
		"totalChunks": req.TotalChunks,
		"size":        len(payload),
	})
}

// Finalize turns a complete upload into a pending import job.
func (uc *UploadController) Finalize(c *gin.Context) {
	req, err := uc.validator.ParseFinalize(c)
	if err != nil {
		apperrors.Abort(c, apperrors.ErrValidation.Wrap(err))
		return
	}

	job, err := uc.uploads.Finalize(c.Request.Context(), req.UploadID, req.TotalChunks)
	switch {
	case errors.Is(err, models.ErrIncompleteUpload):
		apperrors.Abort(c, apperrors.ErrIncompleteUpload.Wrap(err))
		return
	case errors.Is(err, models.ErrUploadNotFound):
		apperrors.Abort(c, apperrors.ErrUploadNotFound.Wrap(err))
		return
	case err != nil:
		logger.For(c.Request.Context(), zap.L()).Error("finalize failed", zap.String("upload_id", req.UploadID), zap.Error(err))
		apperrors.Abort(c, apperrors.ErrInternalServer.Wrap(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}
