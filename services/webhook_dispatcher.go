package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"
	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"go.uber.org/zap"
)

const DefaultWebhookTimeout = 10 * time.Second

// WebhookDispatcher notifies subscribers of catalog and import events.
// Dispatch only queues work; Deliver makes the single HTTP attempt.
type WebhookDispatcher struct {
	webhooks   repository.WebhookRepository
	deliveries repository.DeliveryRepository
	queue      queue.Queue
	client     *http.Client
	metrics    *awspkg.MetricsClient
	log        *zap.Logger
}

func NewWebhookDispatcher(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	q queue.Queue,
	timeout time.Duration,
	metrics *awspkg.MetricsClient,
	log *zap.Logger,
) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookDispatcher{
		webhooks:   webhooks,
		deliveries: deliveries,
		queue:      q,
		client:     &http.Client{Timeout: timeout},
		metrics:    metrics,
		log:        log,
	}
}

// Dispatch queues one delivery per enabled webhook registered for event.
// Failures are logged and never reach the caller's operation.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, event string, payload models.WebhookPayload) int {
	hooks, err := d.webhooks.FindEnabledByEvent(ctx, event)
	if err != nil {
		d.log.Error("webhook lookup failed", zap.String("event", event), zap.Error(err))
		return 0
	}

	var jobID int64
	if payload.JobID != nil {
		jobID = *payload.JobID
	}

	queued := 0
	for _, h := range hooks {
		task := queue.NewWebhookTask(h.ID, event, jobID, payload.ProductID)
		if err := d.queue.Enqueue(ctx, task); err != nil {
			d.log.Error("failed to queue webhook delivery",
				zap.Int64("webhook_id", h.ID),
				zap.String("event", event),
				zap.Error(err),
			)
			continue
		}
		queued++
	}
	return queued
}

// Deliver is the webhook.deliver task handler. It makes one POST and
// records the outcome. Only a failure to record the outcome is returned.
func (d *WebhookDispatcher) Deliver(ctx context.Context, task queue.Task) error {
	log := d.log.With(zap.Int64("webhook_id", task.WebhookID), zap.String("event", task.Event))

	hook, err := d.webhooks.FindByID(ctx, task.WebhookID)
	if errors.Is(err, models.ErrWebhookNotFound) {
		log.Info("webhook removed, skipping delivery")
		return nil
	}
	if err != nil {
		log.Error("webhook lookup failed", zap.Error(err))
		return nil
	}
	if !hook.Enabled {
		log.Info("webhook disabled, skipping delivery")
		return nil
	}

	payload := models.WebhookPayload{Event: task.Event, ProductID: task.ProductID}
	if task.JobID != 0 {
		jobID := task.JobID
		payload.JobID = &jobID
	}

	delivery := d.post(ctx, hook, payload)
	if delivery.Status == models.DeliveryStatusDelivered {
		_ = d.metrics.RecordCount(ctx, awspkg.MetricWebhooksDelivered, map[string]string{"Event": task.Event})
		log.Info("webhook delivered", zap.Int("status_code", delivery.StatusCode), zap.Int64("duration_ms", delivery.DurationMs))
	} else {
		_ = d.metrics.RecordCount(ctx, awspkg.MetricWebhooksFailed, map[string]string{"Event": task.Event})
		log.Warn("webhook delivery failed",
			zap.String("url", hook.URL),
			zap.Int("status_code", delivery.StatusCode),
			zap.String("error", delivery.Error),
		)
	}

	if err := d.deliveries.Save(ctx, delivery); err != nil {
		log.Error("failed to record webhook delivery", zap.Error(err))
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, hook *models.Webhook, payload models.WebhookPayload) *models.WebhookDelivery {
	delivery := &models.WebhookDelivery{
		WebhookID: hook.ID,
		Event:     payload.Event,
		URL:       hook.URL,
		Status:    models.DeliveryStatusFailed,
	}
	start := time.Now()
	defer func() { delivery.DurationMs = time.Since(start).Milliseconds() }()

	body, err := json.Marshal(payload)
	if err != nil {
		delivery.Error = fmt.Sprintf("encode payload: %v", err)
		return delivery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		delivery.Error = fmt.Sprintf("build request: %v", err)
		return delivery
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := d.client.Do(req)
	if err != nil {
		delivery.Error = err.Error()
		return delivery
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Status = models.DeliveryStatusDelivered
	} else {
		delivery.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return delivery
}
