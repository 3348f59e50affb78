package services_test

import (
	"context"
	"testing"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newUploadService(t *testing.T, q *memQueue) (*services.UploadService, *memChunkStore, *memJobs) {
	chunks, jobs := newMemChunkStore(), newMemJobs()
	rec := services.NewReconstructor(chunks, t.TempDir(), zap.NewNop())
	return services.NewUploadService(chunks, jobs, rec, q, zap.NewNop()), chunks, jobs
}

func TestStoreChunk_Idempotent(t *testing.T) {
	svc, chunks, _ := newUploadService(t, &memQueue{})
	ctx := context.Background()

	require.NoError(t, svc.StoreChunk(ctx, "up-1", 0, 1, []byte("sku\n")))
	require.NoError(t, svc.StoreChunk(ctx, "up-1", 0, 1, []byte("sku\n")))
	assert.Equal(t, 1, chunks.count("up-1"))
}

func TestStoreChunk_OutOfRange(t *testing.T) {
	svc, _, _ := newUploadService(t, &memQueue{})
	assert.Error(t, svc.StoreChunk(context.Background(), "up-1", 2, 2, []byte("x")))
	assert.Error(t, svc.StoreChunk(context.Background(), "up-1", -1, 2, []byte("x")))
}

func TestFinalize_IncompleteCreatesNoJob(t *testing.T) {
	q := &memQueue{}
	svc, _, jobs := newUploadService(t, q)
	ctx := context.Background()
	require.NoError(t, svc.StoreChunk(ctx, "up-1", 1, 2, []byte("A\n")))

	job, err := svc.Finalize(ctx, "up-1", 2)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, models.ErrIncompleteUpload)
	assert.Empty(t, jobs.jobs)
	assert.Empty(t, q.all())
}

func TestFinalize_UnknownUpload(t *testing.T) {
	svc, _, _ := newUploadService(t, &memQueue{})
	_, err := svc.Finalize(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, models.ErrUploadNotFound)
}

func TestFinalize_CreatesPendingJobAndQueuesImport(t *testing.T) {
	q := &memQueue{}
	svc, chunks, _ := newUploadService(t, q)
	ctx := context.Background()
	require.NoError(t, svc.StoreChunk(ctx, "up-1", 1, 2, []byte("A\n")))
	require.NoError(t, svc.StoreChunk(ctx, "up-1", 0, 2, []byte("sku\n")))

	job, err := svc.Finalize(ctx, "up-1", 2)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2, chunks.count("up-1"), "chunks stay until the worker reconstructs")

	tasks := q.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.TaskImportRun, tasks[0].Type)
	assert.Equal(t, job.ID, tasks[0].JobID)
	assert.Equal(t, "up-1", tasks[0].UploadID)

	got, err := svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestFinalize_EnqueueFailureFailsJob(t *testing.T) {
	q := &memQueue{enqueueErr: assert.AnError}
	svc, _, jobs := newUploadService(t, q)
	ctx := context.Background()
	require.NoError(t, svc.StoreChunk(ctx, "up-1", 0, 1, []byte("sku\n")))

	_, err := svc.Finalize(ctx, "up-1", 1)
	assert.ErrorIs(t, err, assert.AnError)

	job, _ := jobs.FindByID(ctx, 1)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}
