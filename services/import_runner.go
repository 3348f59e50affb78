package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"
	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"go.uber.org/zap"
)

// EventDispatcher queues webhook notifications for an event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event string, payload models.WebhookPayload) int
}

// ImportFinishedMessage is published to SNS when a job reaches a terminal state.
type ImportFinishedMessage struct {
	Event         string           `json:"event"`
	JobID         int64            `json:"job_id"`
	UploadID      string           `json:"upload_id"`
	Status        models.JobStatus `json:"status"`
	TotalRows     int64            `json:"total_rows"`
	ProcessedRows int64            `json:"processed_rows"`
	Error         *string          `json:"error,omitempty"`
}

// ImportRunner executes import.run tasks: reconstruct the upload, stream
// it through the engine, then announce the outcome.
type ImportRunner struct {
	jobs          repository.ImportJobRepository
	reconstructor *Reconstructor
	engine        *ImportEngine
	progress      ProgressPublisher
	dispatcher    EventDispatcher
	sns           awspkg.SNSPublisher
	topicArn      string
	metrics       *awspkg.MetricsClient
	log           *zap.Logger
}

func NewImportRunner(
	jobs repository.ImportJobRepository,
	reconstructor *Reconstructor,
	engine *ImportEngine,
	progress ProgressPublisher,
	dispatcher EventDispatcher,
	metrics *awspkg.MetricsClient,
	log *zap.Logger,
) *ImportRunner {
	return &ImportRunner{
		jobs:          jobs,
		reconstructor: reconstructor,
		engine:        engine,
		progress:      progress,
		dispatcher:    dispatcher,
		metrics:       metrics,
		log:           log,
	}
}

// WithSNS also publishes every finished job to topicArn.
func (r *ImportRunner) WithSNS(sns awspkg.SNSPublisher, topicArn string) *ImportRunner {
	r.sns = sns
	r.topicArn = topicArn
	return r
}

// Handle runs one import task. It is safe to call again for the same job:
// a finished job is acknowledged as already imported and a job whose
// upload was already consumed is failed instead of re-read.
func (r *ImportRunner) Handle(ctx context.Context, task queue.Task) error {
	// Imports are not cancellable once started.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := r.log.With(zap.Int64("job_id", task.JobID), zap.String("task_id", task.ID))

	job, err := r.jobs.FindByID(ctx, task.JobID)
	if errors.Is(err, models.ErrJobNotFound) {
		log.Warn("import task for unknown job, dropping")
		return nil
	}
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		log.Info("job already imported", zap.String("status", string(job.Status)))
		return nil
	}
	if job.Status.After(models.JobStatusDownloading) {
		return r.abort(ctx, job, start, newImportError(KindUploadConsumed,
			"job was interrupted after its upload was consumed", nil))
	}

	if job.Status == models.JobStatusPending {
		if err := r.transition(ctx, job, models.JobStatusDownloading); err != nil {
			return r.abort(ctx, job, start, err)
		}
	}

	file, err := r.reconstructor.Reconstruct(ctx, job.UploadID, task.TotalChunks)
	if err != nil {
		return r.abort(ctx, job, start, reconstructError(err))
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to remove temp file", zap.Error(err))
		}
	}()

	if err := r.transition(ctx, job, models.JobStatusParsing); err != nil {
		return r.abort(ctx, job, start, err)
	}

	result, runErr := r.engine.Run(ctx, job.ID, file)
	job.ProcessedRows, job.TotalRows = result.Processed, result.Total
	if runErr != nil {
		msg := runErr.Error()
		job.Status, job.Error = models.JobStatusFailed, &msg
	} else {
		job.Status = models.JobStatusCompleted
	}
	r.finish(ctx, job, start)
	return runErr
}

func reconstructError(err error) *ImportError {
	switch {
	case errors.Is(err, models.ErrUploadNotFound):
		return newImportError(KindUploadConsumed, "upload has no stored chunks", err)
	case errors.Is(err, models.ErrIncompleteUpload):
		return newImportError(KindIncompleteUpload, "reconstruct upload", err)
	default:
		return newImportError(KindStorage, "reconstruct upload", err)
	}
}

func (r *ImportRunner) transition(ctx context.Context, job *models.ImportJob, to models.JobStatus) error {
	if err := r.jobs.Transition(ctx, job.ID, to); err != nil {
		return newImportError(KindStorage, "move job to "+string(to), err)
	}
	job.Status = to
	r.progress.Publish(ctx, job.ID, job.Progress())
	return nil
}

// abort fails a job before the engine took over.
func (r *ImportRunner) abort(ctx context.Context, job *models.ImportJob, start time.Time, err error) error {
	msg := err.Error()
	r.log.Error("import aborted",
		zap.Int64("job_id", job.ID),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	if ferr := r.jobs.Fail(ctx, job.ID, msg); ferr != nil {
		r.log.Error("failed to mark job failed", zap.Int64("job_id", job.ID), zap.Error(ferr))
		return err
	}
	job.Status, job.Error = models.JobStatusFailed, &msg
	r.progress.Publish(ctx, job.ID, job.Progress())
	r.finish(ctx, job, start)
	return err
}

// finish announces a terminal job. Nothing here can change the job.
func (r *ImportRunner) finish(ctx context.Context, job *models.ImportJob, start time.Time) {
	dims := map[string]string{"Status": string(job.Status)}
	if job.Status == models.JobStatusCompleted {
		_ = r.metrics.RecordCount(ctx, awspkg.MetricImportsCompleted, nil)
	} else {
		_ = r.metrics.RecordCount(ctx, awspkg.MetricImportsFailed, nil)
	}
	_ = r.metrics.RecordValue(ctx, awspkg.MetricRowsProcessed, float64(job.ProcessedRows), dims)
	_ = r.metrics.RecordLatency(ctx, awspkg.MetricImportDuration, time.Since(start), dims)

	jobID := job.ID
	r.dispatcher.Dispatch(ctx, models.EventImportFinished, models.WebhookPayload{
		Event: models.EventImportFinished,
		JobID: &jobID,
	})

	if r.sns == nil || r.topicArn == "" {
		return
	}
	msg, err := json.Marshal(ImportFinishedMessage{
		Event:         models.EventImportFinished,
		JobID:         job.ID,
		UploadID:      job.UploadID,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		Error:         job.Error,
	})
	if err != nil {
		r.log.Error("failed to encode import event", zap.Error(err))
		return
	}
	if err := r.sns.Publish(ctx, r.topicArn, msg); err != nil {
		r.log.Warn("failed to publish import event", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}
