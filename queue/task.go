package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskImportRun      TaskType = "import.run"
	TaskWebhookDeliver TaskType = "webhook.deliver"
)

// Task is the envelope carried by every queue backend. Only the fields
// relevant to Type are set.
type Task struct {
	ID          string   `json:"id"`
	Type        TaskType `json:"type"`
	JobID       int64    `json:"job_id,omitempty"`
	UploadID    string   `json:"upload_id,omitempty"`
	TotalChunks int      `json:"total_chunks,omitempty"` // accepted at finalize
	WebhookID   int64    `json:"webhook_id,omitempty"`
	Event       string   `json:"event,omitempty"`
	ProductID   *int64   `json:"product_id,omitempty"`
	Attempts    int      `json:"attempts"`
}

// NewImportTask builds the task that runs the import of jobID over the
// first totalChunks chunks of uploadID. Zero falls back to the total the
// chunks declared.
func NewImportTask(jobID int64, uploadID string, totalChunks int) Task {
	return Task{ID: uuid.NewString(), Type: TaskImportRun, JobID: jobID, UploadID: uploadID, TotalChunks: totalChunks}
}

// NewWebhookTask builds the task that delivers event to one webhook.
func NewWebhookTask(webhookID int64, event string, jobID int64, productID *int64) Task {
	return Task{ID: uuid.NewString(), Type: TaskWebhookDeliver, WebhookID: webhookID, Event: event, JobID: jobID, ProductID: productID}
}

func (t Task) encode() ([]byte, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return json.Marshal(t)
}

func decodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode task: %w", err)
	}
	if t.Type == "" {
		return t, errors.New("decode task: missing type")
	}
	return t, nil
}

// Delivery is a received task that must be settled with Ack or Nack.
type Delivery struct {
	Task Task
	ack  func(ctx context.Context) error
	nack func(ctx context.Context) (bool, error)
}

// NewDelivery wraps task with the settle functions of a queue backend.
func NewDelivery(task Task, ack func(ctx context.Context) error, nack func(ctx context.Context) (bool, error)) *Delivery {
	return &Delivery{Task: task, ack: ack, nack: nack}
}

// Ack removes the task from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.ack(ctx)
}

// Nack hands the task back for redelivery. It reports whether the task
// will be delivered again or was dropped after exhausting its attempts.
func (d *Delivery) Nack(ctx context.Context) (bool, error) {
	return d.nack(ctx)
}

// Queue is an at-least-once task queue shared by API and worker processes.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Receive waits briefly for a task. It returns nil, nil when none
	// arrived in time.
	Receive(ctx context.Context) (*Delivery, error)
}
