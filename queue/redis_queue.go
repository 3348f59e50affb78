package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultBlockTimeout = 5 * time.Second
	defaultLeaseTTL     = 30 * time.Second
)

// RedisQueue is a reliable list queue: tasks are moved atomically from the
// shared list to a per-worker processing list and removed only on Ack.
// Every worker holds a lease key while it is alive. Processing lists whose
// lease expired belong to dead workers and are pushed back onto the queue
// by Recover and KeepAlive, whatever id the surviving worker runs under.
type RedisQueue struct {
	client        *redis.Client
	prefix        string
	workerID      string
	queueKey      string
	processingKey string
	leaseKey      string
	leaseTTL      time.Duration
	maxAttempts   int
	blockTimeout  time.Duration
	log           *zap.Logger
}

func NewRedisQueue(client *redis.Client, prefix, workerID string, maxAttempts int, log *zap.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "importer"
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RedisQueue{
		client:        client,
		prefix:        prefix,
		workerID:      workerID,
		queueKey:      prefix + ":queue",
		processingKey: processingKey(prefix, workerID),
		leaseKey:      leaseKey(prefix, workerID),
		leaseTTL:      defaultLeaseTTL,
		maxAttempts:   maxAttempts,
		blockTimeout:  defaultBlockTimeout,
		log:           log,
	}
}

func processingKey(prefix, workerID string) string {
	return fmt.Sprintf("%s:processing:%s", prefix, workerID)
}

func leaseKey(prefix, workerID string) string {
	return fmt.Sprintf("%s:worker:%s", prefix, workerID)
}

// SetBlockTimeout bounds how long Receive waits for a task.
func (q *RedisQueue) SetBlockTimeout(d time.Duration) {
	q.blockTimeout = d
}

// SetLeaseTTL sets how long a worker may go without refreshing its lease
// before its in-flight tasks are handed to other workers.
func (q *RedisQueue) SetLeaseTTL(d time.Duration) {
	if d > 0 {
		q.leaseTTL = d
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := task.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", task.Type, err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.queueKey, q.processingKey, q.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive task: %w", err)
	}

	task, err := decodeTask([]byte(raw))
	if err != nil {
		q.log.Error("dropping malformed task", zap.String("payload", raw), zap.Error(err))
		_ = q.client.LRem(ctx, q.processingKey, 1, raw).Err()
		return nil, nil
	}

	return &Delivery{
		Task: task,
		ack: func(ctx context.Context) error {
			return q.client.LRem(ctx, q.processingKey, 1, raw).Err()
		},
		nack: func(ctx context.Context) (bool, error) {
			return q.requeue(ctx, raw, task)
		},
	}, nil
}

func (q *RedisQueue) requeue(ctx context.Context, raw string, task Task) (bool, error) {
	task.Attempts++
	if task.Attempts >= q.maxAttempts {
		q.log.Warn("task exhausted its attempts",
			zap.String("task_id", task.ID),
			zap.String("type", string(task.Type)),
			zap.Int("attempts", task.Attempts),
		)
		return false, q.client.LRem(ctx, q.processingKey, 1, raw).Err()
	}

	data, err := task.encode()
	if err != nil {
		return false, err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, raw)
		pipe.LPush(ctx, q.queueKey, data)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to requeue task %s: %w", task.ID, err)
	}
	return true, nil
}

// Heartbeat takes or refreshes this worker's lease.
func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	if err := q.client.Set(ctx, q.leaseKey, time.Now().Unix(), q.leaseTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh worker lease: %w", err)
	}
	return nil
}

// Recover takes this worker's lease, then moves back onto the shared queue
// every task left in this worker's processing list and in the processing
// list of any worker whose lease has expired.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	if err := q.Heartbeat(ctx); err != nil {
		return 0, err
	}
	n, err := q.drain(ctx, q.processingKey)
	if err != nil {
		return n, err
	}
	m, err := q.reclaimExpired(ctx)
	return n + m, err
}

// KeepAlive refreshes the lease every third of its TTL and reclaims the
// tasks of expired workers until ctx is done.
func (q *RedisQueue) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(q.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Heartbeat(ctx); err != nil {
				q.log.Warn("worker lease refresh failed", zap.String("worker_id", q.workerID), zap.Error(err))
				continue
			}
			if n, err := q.reclaimExpired(ctx); err != nil {
				q.log.Warn("reclaiming tasks of dead workers failed", zap.Error(err))
			} else if n > 0 {
				q.log.Info("reclaimed tasks of dead workers", zap.Int("count", n))
			}
		}
	}
}

func (q *RedisQueue) reclaimExpired(ctx context.Context) (int, error) {
	listPrefix := processingKey(q.prefix, "")
	var keys []string
	iter := q.client.Scan(ctx, 0, listPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan processing lists: %w", err)
	}

	total := 0
	for _, key := range keys {
		if key == q.processingKey {
			continue
		}
		owner := strings.TrimPrefix(key, listPrefix)
		alive, err := q.client.Exists(ctx, leaseKey(q.prefix, owner)).Result()
		if err != nil {
			return total, fmt.Errorf("failed to check lease of worker %s: %w", owner, err)
		}
		if alive > 0 {
			continue
		}
		n, err := q.drain(ctx, key)
		total += n
		if err != nil {
			return total, err
		}
		if n > 0 {
			q.log.Warn("requeued tasks of expired worker", zap.String("worker_id", owner), zap.Int("count", n))
		}
	}
	return total, nil
}

// drain moves every task of one processing list back onto the queue.
func (q *RedisQueue) drain(ctx context.Context, key string) (int, error) {
	n := 0
	for {
		err := q.client.RPopLPush(ctx, key, q.queueKey).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover tasks: %w", err)
		}
		n++
	}
}
