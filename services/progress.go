package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressPublisher broadcasts job progress. Delivery is best-effort:
// nothing is stored and late subscribers miss earlier events.
type ProgressPublisher interface {
	Publish(ctx context.Context, jobID int64, event models.ProgressEvent)
}

// ProgressSubscriber streams the events published for one job after the
// subscription starts. The returned cancel func releases the subscription
// and closes the channel.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, jobID int64) (<-chan models.ProgressEvent, func(), error)
}

// ProgressBus is a publisher whose events can be subscribed to.
type ProgressBus interface {
	ProgressPublisher
	ProgressSubscriber
}

const subscriberBuffer = 32

// ProgressHub fans events out to in-process subscribers. It serves a single
// process running both the API and the workers. A subscriber that
// falls behind loses events instead of slowing the import down.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[int64]map[int]chan models.ProgressEvent
	next int
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[int64]map[int]chan models.ProgressEvent)}
}

func (h *ProgressHub) Publish(_ context.Context, jobID int64, event models.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *ProgressHub) Subscribe(ctx context.Context, jobID int64) (<-chan models.ProgressEvent, func(), error) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan models.ProgressEvent)
	}
	h.subs[jobID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[jobID], id)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			h.mu.Unlock()
			close(ch)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for jobID.
func (h *ProgressHub) Subscribers(jobID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// RedisProgressPublisher broadcasts over Redis pub/sub so API and worker
// processes can run separately.
type RedisProgressPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisProgressPublisher(client *redis.Client, log *zap.Logger) *RedisProgressPublisher {
	return &RedisProgressPublisher{client: client, log: log}
}

// ProgressChannel is the pub/sub channel carrying events for jobID.
func ProgressChannel(jobID int64) string {
	return fmt.Sprintf("import:progress:%d", jobID)
}

func (p *RedisProgressPublisher) Publish(ctx context.Context, jobID int64, event models.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to encode progress event", zap.Int64("job_id", jobID), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, ProgressChannel(jobID), data).Err(); err != nil {
		p.log.Warn("failed to publish progress event", zap.Int64("job_id", jobID), zap.Error(err))
	}
}

func (p *RedisProgressPublisher) Subscribe(ctx context.Context, jobID int64) (<-chan models.ProgressEvent, func(), error) {
	pubsub := p.client.Subscribe(ctx, ProgressChannel(jobID))
	// Wait for the confirmation so no event published after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to job %d progress: %w", jobID, err)
	}

	out := make(chan models.ProgressEvent, subscriberBuffer)
	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.log.Warn("dropping malformed progress event", zap.Int64("job_id", jobID), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
