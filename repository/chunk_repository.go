package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormChunkRepository stores upload chunks in Postgres.
type GormChunkRepository struct {
	db *gorm.DB
}

func NewGormChunkRepository(db *gorm.DB) *GormChunkRepository {
	return &GormChunkRepository{db: db}
}

func (r *GormChunkRepository) Put(ctx context.Context, uploadID string, index, total int, payload []byte) error {
	chunk := &models.UploadChunk{
		UploadID:    uploadID,
		ChunkIndex:  index,
		TotalChunks: total,
		Payload:     payload,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "upload_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "total_chunks", "updated_at"}),
	}).Create(chunk).Error
	if err != nil {
		return fmt.Errorf("store chunk %d of upload %s: %w", index, uploadID, err)
	}
	return nil
}

type chunkRow struct {
	ChunkIndex  int
	TotalChunks int
}

func (r *GormChunkRepository) Manifest(ctx context.Context, uploadID string) (models.ChunkManifest, error) {
	var rows []chunkRow
	err := r.db.WithContext(ctx).Model(&models.UploadChunk{}).
		Select("chunk_index", "total_chunks").
		Where("upload_id = ?", uploadID).
		Order("chunk_index").
		Find(&rows).Error
	if err != nil {
		return models.ChunkManifest{}, fmt.Errorf("list chunks of upload %s: %w", uploadID, err)
	}

	m := models.ChunkManifest{UploadID: uploadID, Indices: make([]int, 0, len(rows))}
	for _, row := range rows {
		m.Indices = append(m.Indices, row.ChunkIndex)
		if row.TotalChunks > m.DeclaredTotal {
			m.DeclaredTotal = row.TotalChunks
		}
	}
	return m, nil
}

func (r *GormChunkRepository) Open(ctx context.Context, uploadID string, index int) (io.ReadCloser, error) {
	var chunk models.UploadChunk
	err := r.db.WithContext(ctx).
		Select("payload").
		Where("upload_id = ? AND chunk_index = ?", uploadID, index).
		Take(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chunk %d of upload %s: %w", index, uploadID, models.ErrIncompleteUpload)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %d of upload %s: %w", index, uploadID, err)
	}
	return io.NopCloser(bytes.NewReader(chunk.Payload)), nil
}

func (r *GormChunkRepository) DeleteUpload(ctx context.Context, uploadID string) error {
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Delete(&models.UploadChunk{}).Error
	if err != nil {
		return fmt.Errorf("delete chunks of upload %s: %w", uploadID, err)
	}
	return nil
}

func (r *GormChunkRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	stale := r.db.Model(&models.UploadChunk{}).
		Select("upload_id").
		Group("upload_id").
		Having("MAX(updated_at) < ?", before)

	res := r.db.WithContext(ctx).
		Where("upload_id IN (?)", stale).
		Delete(&models.UploadChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge stale chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
