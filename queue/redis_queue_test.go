package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisQueue(t *testing.T, worker string) (*queue.RedisQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.NewRedisQueue(client, "test", worker, 3, zap.NewNop())
	q.SetBlockTimeout(time.Second)
	return q, mr, client
}

func TestRedisQueue_EnqueueReceiveAck(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := setupRedisQueue(t, "w1")

	require.NoError(t, q.Enqueue(ctx, queue.NewImportTask(7, "up-1", 0)))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, queue.TaskImportRun, d.Task.Type)
	assert.Equal(t, int64(7), d.Task.JobID)
	assert.Equal(t, "up-1", d.Task.UploadID)

	processing, _ := mr.List("test:processing:w1")
	assert.Len(t, processing, 1)

	require.NoError(t, d.Ack(ctx))
	assert.False(t, mr.Exists("test:processing:w1"))
	assert.False(t, mr.Exists("test:queue"))
}

func TestRedisQueue_ReceiveTimesOutEmpty(t *testing.T) {
	q, _, _ := setupRedisQueue(t, "w1")

	d, err := q.Receive(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedisQueue_NackRedeliversUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := setupRedisQueue(t, "w1")

	require.NoError(t, q.Enqueue(ctx, queue.NewWebhookTask(3, "import.finished", 7, nil)))

	for attempt := 0; attempt < 2; attempt++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, attempt, d.Task.Attempts)

		retried, err := d.Nack(ctx)
		require.NoError(t, err)
		assert.True(t, retried)
	}

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	retried, err := d.Nack(ctx)
	require.NoError(t, err)
	assert.False(t, retried)

	assert.False(t, mr.Exists("test:queue"))
	assert.False(t, mr.Exists("test:processing:w1"))
}

func TestRedisQueue_RecoverStrandedTasks(t *testing.T) {
	ctx := context.Background()
	q, mr, client := setupRedisQueue(t, "w1")

	require.NoError(t, q.Enqueue(ctx, queue.NewImportTask(1, "a", 0)))
	require.NoError(t, q.Enqueue(ctx, queue.NewImportTask(2, "b", 0)))

	_, err := q.Receive(ctx)
	require.NoError(t, err)
	_, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:queue"))

	// a restarted worker with the same id picks up what it left behind
	restarted := queue.NewRedisQueue(client, "test", "w1", 3, zap.NewNop())
	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, _ := mr.List("test:queue")
	assert.Len(t, pending, 2)
}

func TestRedisQueue_DropsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	q, mr, _ := setupRedisQueue(t, "w1")

	_, err := mr.Lpush("test:queue", "not-json")
	require.NoError(t, err)

	d, err := q.Receive(ctx)
	assert.NoError(t, err)
	assert.Nil(t, d)
	assert.False(t, mr.Exists("test:processing:w1"))
}

func TestRedisQueue_RecoverReclaimsTasksOfExpiredWorker(t *testing.T) {
	ctx := context.Background()
	dead, mr, client := setupRedisQueue(t, "host-a")
	dead.SetLeaseTTL(10 * time.Second)

	_, err := dead.Recover(ctx)
	require.NoError(t, err)
	require.NoError(t, dead.Enqueue(ctx, queue.NewImportTask(9, "up-9", 2)))
	_, err = dead.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:worker:host-a"))

	// host-a stops refreshing its lease and comes back as host-b
	mr.FastForward(11 * time.Second)
	assert.False(t, mr.Exists("test:worker:host-a"))

	replacement := queue.NewRedisQueue(client, "test", "host-b", 3, zap.NewNop())
	replacement.SetBlockTimeout(time.Second)
	n, err := replacement.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:processing:host-a"))

	d, err := replacement.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, int64(9), d.Task.JobID)
	assert.Equal(t, 2, d.Task.TotalChunks)
}

func TestRedisQueue_RecoverLeavesLiveWorkersAlone(t *testing.T) {
	ctx := context.Background()
	busy, mr, client := setupRedisQueue(t, "host-a")

	_, err := busy.Recover(ctx)
	require.NoError(t, err)
	require.NoError(t, busy.Enqueue(ctx, queue.NewImportTask(9, "up-9", 0)))
	_, err = busy.Receive(ctx)
	require.NoError(t, err)

	other := queue.NewRedisQueue(client, "test", "host-b", 3, zap.NewNop())
	n, err := other.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	processing, _ := mr.List("test:processing:host-a")
	assert.Len(t, processing, 1)
	assert.True(t, mr.Exists("test:worker:host-b"))
}

func TestRedisQueue_KeepAliveRefreshesLease(t *testing.T) {
	q, mr, _ := setupRedisQueue(t, "w1")
	q.SetLeaseTTL(300 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.KeepAlive(ctx)

	require.Eventually(t, func() bool { return mr.Exists("test:worker:w1") }, time.Second, 10*time.Millisecond)
}
