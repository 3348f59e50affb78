package models

import "time"

// Events that notify webhook subscribers.
const (
	EventImportFinished = "import.finished"
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
)

const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// Webhook is a subscription to one event type. Subscriptions are managed
// by another service; the importer only reads them.
type Webhook struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	URL       string `json:"url" gorm:"size:2048;not null"`
	EventType string `json:"event_type" gorm:"size:128;not null;index"`
	Enabled   bool   `json:"enabled" gorm:"not null"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// WebhookPayload is the JSON body POSTed to subscribers.
type WebhookPayload struct {
	Event     string `json:"event"`
	JobID     *int64 `json:"job_id,omitempty"`
	ProductID *int64 `json:"product_id,omitempty"`
}

// WebhookDelivery records the outcome of a single delivery attempt.
type WebhookDelivery struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	WebhookID  int64     `json:"webhook_id" gorm:"not null;index"`
	Event      string    `json:"event" gorm:"size:128;not null"`
	URL        string    `json:"url" gorm:"size:2048"`
	Status     string    `json:"status" gorm:"size:32;not null"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
