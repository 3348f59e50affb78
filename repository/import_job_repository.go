package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"gorm.io/gorm"
)

type GormImportJobRepository struct {
	db *gorm.DB
}

func NewGormImportJobRepository(db *gorm.DB) *GormImportJobRepository {
	return &GormImportJobRepository{db: db}
}

func (r *GormImportJobRepository) Create(ctx context.Context, uploadID string) (*models.ImportJob, error) {
	job := &models.ImportJob{
		UploadID: uploadID,
		Status:   models.JobStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}
	return job, nil
}

func (r *GormImportJobRepository) FindByID(ctx context.Context, id int64) (*models.ImportJob, error) {
	var job models.ImportJob
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find import job %d: %w", id, err)
	}
	return &job, nil
}

// Transition moves the job to status to. The WHERE clause only matches a
// job sitting in a valid predecessor status, so a backward, skipping or
// post-terminal transition affects no row and is reported as
// ErrInvalidTransition.
func (r *GormImportJobRepository) Transition(ctx context.Context, id int64, to models.JobStatus) error {
	if to == models.JobStatusFailed {
		return fmt.Errorf("use Fail to mark job %d failed: %w", id, models.ErrInvalidTransition)
	}
	res := r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", id, statusStrings(to.Predecessors())).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("transition job %d to %s: %w", id, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.rejected(ctx, id, to)
	}
	return nil
}

// UpdateCounters stores the row counters. Counters only move while the job
// is importing.
func (r *GormImportJobRepository) UpdateCounters(ctx context.Context, id int64, processed, total int64) error {
	if processed > total {
		return fmt.Errorf("job %d: processed rows %d exceed total %d", id, processed, total)
	}
	res := r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status = ?", id, string(models.JobStatusImporting)).
		Updates(map[string]interface{}{
			"processed_rows": processed,
			"total_rows":     total,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update counters of job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.rejected(ctx, id, models.JobStatusImporting)
	}
	return nil
}

// Fail marks a non-terminal job failed with message.
func (r *GormImportJobRepository) Fail(ctx context.Context, id int64, message string) error {
	res := r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status NOT IN ?", id, []string{string(models.JobStatusCompleted), string(models.JobStatusFailed)}).
		Updates(map[string]interface{}{
			"status":     string(models.JobStatusFailed),
			"error":      message,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("fail job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.rejected(ctx, id, models.JobStatusFailed)
	}
	return nil
}

func (r *GormImportJobRepository) rejected(ctx context.Context, id int64, to models.JobStatus) error {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %d is %s, cannot move to %s: %w", id, job.Status, to, models.ErrInvalidTransition)
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
