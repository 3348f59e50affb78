package services

import (
	"context"
	"fmt"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"go.uber.org/zap"
)

// UploadService is the entry point of the upload protocol: it stores
// chunks and turns a complete upload into a queued import job.
type UploadService struct {
	chunks        repository.ChunkStore
	jobs          repository.ImportJobRepository
	reconstructor *Reconstructor
	queue         queue.Queue
	log           *zap.Logger
}

func NewUploadService(
	chunks repository.ChunkStore,
	jobs repository.ImportJobRepository,
	reconstructor *Reconstructor,
	q queue.Queue,
	log *zap.Logger,
) *UploadService {
	return &UploadService{chunks: chunks, jobs: jobs, reconstructor: reconstructor, queue: q, log: log}
}

// StoreChunk stores or replaces one chunk. Storing the same chunk twice
// leaves a single copy.
func (s *UploadService) StoreChunk(ctx context.Context, uploadID string, index, total int, payload []byte) error {
	if index < 0 || total <= 0 || index >= total {
		return fmt.Errorf("chunk %d of %d is out of range", index, total)
	}
	return s.chunks.Put(ctx, uploadID, index, total, payload)
}

// Finalize creates a pending job for a complete upload and queues its
// import. An incomplete upload is rejected and no job is created.
func (s *UploadService) Finalize(ctx context.Context, uploadID string, totalChunks int) (*models.ImportJob, error) {
	m, err := s.reconstructor.CheckComplete(ctx, uploadID, totalChunks)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, queue.NewImportTask(job.ID, uploadID, m.Expected())); err != nil {
		msg := fmt.Sprintf("enqueue import: %v", err)
		if ferr := s.jobs.Fail(ctx, job.ID, msg); ferr != nil {
			s.log.Error("failed to mark job failed", zap.Int64("job_id", job.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("queue import job %d: %w", job.ID, err)
	}

	s.log.Info("import queued", zap.Int64("job_id", job.ID), zap.String("upload_id", uploadID))
	return job, nil
}

// Job returns the current state of an import job.
func (s *UploadService) Job(ctx context.Context, id int64) (*models.ImportJob, error) {
	return s.jobs.FindByID(ctx, id)
}
