package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// memQueue hands out tasks from a channel and records how each was settled.
type memQueue struct {
	tasks chan queue.Task

	mu     sync.Mutex
	acked  []string
	nacked []string
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: make(chan queue.Task, 16)}
}

func (m *memQueue) Enqueue(_ context.Context, task queue.Task) error {
	m.tasks <- task
	return nil
}

func (m *memQueue) Receive(ctx context.Context) (*queue.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-m.tasks:
		return queue.NewDelivery(t,
			func(context.Context) error {
				m.mu.Lock()
				defer m.mu.Unlock()
				m.acked = append(m.acked, t.ID)
				return nil
			},
			func(context.Context) (bool, error) {
				m.mu.Lock()
				defer m.mu.Unlock()
				m.nacked = append(m.nacked, t.ID)
				return false, nil
			},
		), nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (m *memQueue) settled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked) + len(m.nacked)
}

func TestPool_DispatchesByTypeAndSettles(t *testing.T) {
	q := newMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok := queue.Task{ID: "ok", Type: queue.TaskImportRun}
	failing := queue.Task{ID: "fail", Type: queue.TaskWebhookDeliver}
	panicking := queue.Task{ID: "panic", Type: queue.TaskImportRun, JobID: -1}
	unknown := queue.Task{ID: "unknown", Type: "other"}

	pool := queue.NewPool(q, 2, nil, zap.NewNop())
	pool.Handle(queue.TaskImportRun, func(_ context.Context, task queue.Task) error {
		if task.JobID < 0 {
			panic("bad job")
		}
		return nil
	})
	pool.Handle(queue.TaskWebhookDeliver, func(context.Context, queue.Task) error {
		return errors.New("downstream unavailable")
	})

	for _, task := range []queue.Task{ok, failing, panicking, unknown} {
		_ = q.Enqueue(ctx, task)
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.settled() == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.ElementsMatch(t, []string{"ok", "unknown"}, q.acked)
	assert.ElementsMatch(t, []string{"fail", "panic"}, q.nacked)
}
