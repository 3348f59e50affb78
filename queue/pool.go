package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"

	"go.uber.org/zap"
)

// Handler processes one task. A returned error makes the task eligible
// for redelivery.
type Handler func(ctx context.Context, task Task) error

// Pool runs a fixed number of workers pulling from one queue and
// dispatching tasks by type.
type Pool struct {
	queue       Queue
	concurrency int
	handlers    map[TaskType]Handler
	metrics     *awspkg.MetricsClient
	log         *zap.Logger
	backoff     time.Duration
}

func NewPool(q Queue, concurrency int, metrics *awspkg.MetricsClient, log *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		queue:       q,
		concurrency: concurrency,
		handlers:    make(map[TaskType]Handler),
		metrics:     metrics,
		log:         log,
		backoff:     time.Second,
	}
}

// Handle registers h for tasks of type t. It must be called before Run.
func (p *Pool) Handle(t TaskType, h Handler) {
	p.handlers[t] = h
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	p.log.Info("worker pool started", zap.Int("concurrency", p.concurrency))
	wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.log.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		d, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error("queue receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}
		if d == nil {
			continue
		}
		p.process(ctx, log, d)
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, d *Delivery) {
	log = log.With(zap.String("task_id", d.Task.ID), zap.String("type", string(d.Task.Type)))

	h, ok := p.handlers[d.Task.Type]
	if !ok {
		log.Error("no handler for task type, dropping")
		if err := d.Ack(ctx); err != nil {
			log.Error("failed to ack task", zap.Error(err))
		}
		return
	}

	// Settle with a fresh context so shutdown does not strand the task.
	settleCtx := context.WithoutCancel(ctx)
	if err := p.safeHandle(ctx, h, d.Task); err != nil {
		log.Error("task failed", zap.Int("attempts", d.Task.Attempts+1), zap.Error(err))
		retried, nackErr := d.Nack(settleCtx)
		if nackErr != nil {
			log.Error("failed to nack task", zap.Error(nackErr))
			return
		}
		if retried {
			_ = p.metrics.RecordCount(settleCtx, awspkg.MetricQueueTasksRequeued, map[string]string{"TaskType": string(d.Task.Type)})
		}
		return
	}
	if err := d.Ack(settleCtx); err != nil {
		log.Error("failed to ack task", zap.Error(err))
	}
}

func (p *Pool) safeHandle(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return h(ctx, task)
}
