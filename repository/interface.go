package repository

import (
	"context"
	"io"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"
)

// ProductRepository is the catalog store as seen by the importer: bulk
// upsert is the only mutation it performs.
type ProductRepository interface {
	// UpsertBatch applies every product in one transaction, inserting new
	// case-folded SKUs and overwriting mutable fields of existing ones.
	UpsertBatch(ctx context.Context, products []models.Product) (int64, error)
}

// ImportJobRepository owns the durable job record. Every mutation is
// guarded so that only valid forward transitions are committed.
type ImportJobRepository interface {
	Create(ctx context.Context, uploadID string) (*models.ImportJob, error)
	FindByID(ctx context.Context, id int64) (*models.ImportJob, error)
	Transition(ctx context.Context, id int64, to models.JobStatus) error
	UpdateCounters(ctx context.Context, id int64, processed, total int64) error
	Fail(ctx context.Context, id int64, message string) error
}

// ChunkStore keeps the raw slices of in-flight uploads.
type ChunkStore interface {
	// Put stores or overwrites chunk index of uploadID.
	Put(ctx context.Context, uploadID string, index, total int, payload []byte) error
	Manifest(ctx context.Context, uploadID string) (models.ChunkManifest, error)
	Open(ctx context.Context, uploadID string, index int) (io.ReadCloser, error)
	DeleteUpload(ctx context.Context, uploadID string) error
	// PurgeStale removes every upload whose newest chunk is older than
	// before and returns the number of chunks removed.
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

// WebhookRepository reads subscriptions managed by another service.
type WebhookRepository interface {
	FindEnabledByEvent(ctx context.Context, event string) ([]models.Webhook, error)
	FindByID(ctx context.Context, id int64) (*models.Webhook, error)
}

// DeliveryRepository records webhook delivery outcomes.
type DeliveryRepository interface {
	Save(ctx context.Context, delivery *models.WebhookDelivery) error
}
