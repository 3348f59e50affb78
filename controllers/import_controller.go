package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/lakhoreJanvi/product-importer-project/common/errors"
	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultKeepAlive = 15 * time.Second

// JobReader gives read-only access to import jobs.
type JobReader interface {
	Job(ctx context.Context, id int64) (*models.ImportJob, error)
}

type ImportController struct {
	jobs      JobReader
	progress  services.ProgressSubscriber
	validator *RequestValidator
	keepAlive time.Duration
}

func NewImportController(jobs JobReader, progress services.ProgressSubscriber, validator *RequestValidator) *ImportController {
	return &ImportController{jobs: jobs, progress: progress, validator: validator, keepAlive: defaultKeepAlive}
}

// GetJob returns the current state of an import job.
func (ic *ImportController) GetJob(c *gin.Context) {
	id, err := ic.validator.ParseJobID(c)
	if err != nil {
		apperrors.Abort(c, apperrors.ErrInvalidInput.Wrap(err))
		return
	}

	job, err := ic.jobs.Job(c.Request.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		apperrors.Abort(c, apperrors.ErrJobNotFound)
		return
	}
	if err != nil {
		apperrors.Abort(c, apperrors.ErrInternalServer.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, job)
}

// StreamProgress sends the job's current state as a server-sent event,
// then every progress event until the job is terminal or the client leaves.
func (ic *ImportController) StreamProgress(c *gin.Context) {
	id, err := ic.validator.ParseJobID(c)
	if err != nil {
		apperrors.Abort(c, apperrors.ErrInvalidInput.Wrap(err))
		return
	}
	ctx := c.Request.Context()

	// Subscribe before reading the job so nothing falls between the two.
	events, cancel, err := ic.progress.Subscribe(ctx, id)
	if err != nil {
		zap.L().Error("progress subscribe failed", zap.Int64("job_id", id), zap.Error(err))
		apperrors.Abort(c, apperrors.ErrServiceUnavailable.Wrap(err))
		return
	}
	defer cancel()

	job, err := ic.jobs.Job(ctx, id)
	if errors.Is(err, models.ErrJobNotFound) {
		apperrors.Abort(c, apperrors.ErrJobNotFound)
		return
	}
	if err != nil {
		apperrors.Abort(c, apperrors.ErrInternalServer.Wrap(err))
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	current := job.Progress()
	ic.send(c, current)
	if current.Terminal() {
		return
	}

	ticker := time.NewTicker(ic.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			ic.send(c, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func (ic *ImportController) send(c *gin.Context, ev models.ProgressEvent) {
	c.SSEvent("progress", ev)
	c.Writer.Flush()
}
