package services_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/queue"
)

// ---- chunk store ----

type memChunk struct {
	data    []byte
	total   int
	updated time.Time
}

type memChunkStore struct {
	mu      sync.Mutex
	uploads map[string]map[int]memChunk
	now     time.Time
	openErr error
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{uploads: map[string]map[int]memChunk{}, now: time.Now()}
}

func (s *memChunkStore) Put(_ context.Context, uploadID string, index, total int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads[uploadID] == nil {
		s.uploads[uploadID] = map[int]memChunk{}
	}
	s.uploads[uploadID][index] = memChunk{data: append([]byte(nil), payload...), total: total, updated: s.now}
	return nil
}

func (s *memChunkStore) Manifest(_ context.Context, uploadID string) (models.ChunkManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.ChunkManifest{UploadID: uploadID}
	for idx, c := range s.uploads[uploadID] {
		m.Indices = append(m.Indices, idx)
		if c.total > m.DeclaredTotal {
			m.DeclaredTotal = c.total
		}
	}
	sort.Ints(m.Indices)
	return m, nil
}

func (s *memChunkStore) Open(_ context.Context, uploadID string, index int) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	c, ok := s.uploads[uploadID][index]
	if !ok {
		return nil, models.ErrIncompleteUpload
	}
	return io.NopCloser(bytes.NewReader(c.data)), nil
}

func (s *memChunkStore) DeleteUpload(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *memChunkStore) PurgeStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, chunks := range s.uploads {
		var newest time.Time
		for _, c := range chunks {
			if c.updated.After(newest) {
				newest = c.updated
			}
		}
		if newest.Before(before) {
			n += int64(len(chunks))
			delete(s.uploads, id)
		}
	}
	return n, nil
}

func (s *memChunkStore) count(uploadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads[uploadID])
}

// storeFile splits data into chunks of size and stores them in order.
func (s *memChunkStore) storeFile(uploadID string, data []byte, size int, order []int) int {
	var parts [][]byte
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		parts = append(parts, data[start:end])
	}
	if order == nil {
		for i := range parts {
			order = append(order, i)
		}
	}
	for _, i := range order {
		_ = s.Put(context.Background(), uploadID, i, len(parts), parts[i])
	}
	return len(parts)
}

// ---- job store ----

type memJobs struct {
	mu      sync.Mutex
	jobs    map[int64]*models.ImportJob
	next    int64
	history map[int64][]models.JobStatus
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[int64]*models.ImportJob{}, history: map[int64][]models.JobStatus{}}
}

func (r *memJobs) Create(_ context.Context, uploadID string) (*models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	job := &models.ImportJob{ID: r.next, UploadID: uploadID, Status: models.JobStatusPending}
	r.jobs[job.ID] = job
	r.history[job.ID] = []models.JobStatus{models.JobStatusPending}
	cp := *job
	return &cp, nil
}

// put inserts a job in an arbitrary state.
func (r *memJobs) put(job models.ImportJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &job
	r.history[job.ID] = []models.JobStatus{job.Status}
}

func (r *memJobs) FindByID(_ context.Context, id int64) (*models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobs) Transition(_ context.Context, id int64, to models.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if to == models.JobStatusFailed || !job.Status.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", job.Status, to, models.ErrInvalidTransition)
	}
	job.Status = to
	r.history[id] = append(r.history[id], to)
	return nil
}

func (r *memJobs) UpdateCounters(_ context.Context, id int64, processed, total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if processed > total {
		return errors.New("processed exceeds total")
	}
	if job.Status != models.JobStatusImporting {
		return models.ErrInvalidTransition
	}
	job.ProcessedRows, job.TotalRows = processed, total
	return nil
}

func (r *memJobs) Fail(_ context.Context, id int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return models.ErrInvalidTransition
	}
	job.Status = models.JobStatusFailed
	job.Error = &message
	r.history[id] = append(r.history[id], models.JobStatusFailed)
	return nil
}

func (r *memJobs) statuses(id int64) []models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JobStatus(nil), r.history[id]...)
}

// ---- catalog ----

type memCatalog struct {
	mu          sync.Mutex
	products    map[string]models.Product
	batches     []int
	failOnBatch int // 1-based; 0 never fails
}

func newMemCatalog() *memCatalog {
	return &memCatalog{products: map[string]models.Product{}}
}

func (c *memCatalog) UpsertBatch(_ context.Context, products []models.Product) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOnBatch > 0 && len(c.batches)+1 == c.failOnBatch {
		return 0, errors.New("database unavailable")
	}
	seen := map[string]bool{}
	for _, p := range products {
		key := models.NormalizeSKU(p.SKU)
		if seen[key] {
			return 0, errors.New("ON CONFLICT DO UPDATE command cannot affect row a second time")
		}
		seen[key] = true
	}
	for _, p := range products {
		key := models.NormalizeSKU(p.SKU)
		if existing, ok := c.products[key]; ok {
			p.SKU = existing.SKU
		}
		c.products[key] = p
	}
	c.batches = append(c.batches, len(products))
	return int64(len(products)), nil
}

func (c *memCatalog) get(sku string) (models.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[models.NormalizeSKU(sku)]
	return p, ok
}

func (c *memCatalog) snapshot() map[string]models.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.Product, len(c.products))
	for k, v := range c.products {
		out[k] = v
	}
	return out
}

// ---- progress ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ int64, event models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProgressEvent(nil), p.events...)
}

func (p *recordingPublisher) last() models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// ---- queue ----

type memQueue struct {
	mu         sync.Mutex
	tasks      []queue.Task
	enqueueErr error
}

func (q *memQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) Receive(context.Context) (*queue.Delivery, error) {
	return nil, nil
}

func (q *memQueue) all() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Task(nil), q.tasks...)
}

// ---- webhooks ----

type memWebhooks struct {
	hooks map[int64]models.Webhook
}

func (r *memWebhooks) FindEnabledByEvent(_ context.Context, event string) ([]models.Webhook, error) {
	var out []models.Webhook
	for _, h := range r.hooks {
		if h.Enabled && h.EventType == event {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memWebhooks) FindByID(_ context.Context, id int64) (*models.Webhook, error) {
	h, ok := r.hooks[id]
	if !ok {
		return nil, models.ErrWebhookNotFound
	}
	return &h, nil
}

type memDeliveries struct {
	mu    sync.Mutex
	saved []models.WebhookDelivery
}

func (r *memDeliveries) Save(_ context.Context, d *models.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *d)
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.WebhookPayload
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event string, payload models.WebhookPayload) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload.Event = event
	d.events = append(d.events, payload)
	return 1
}

type recordingSNS struct {
	messages [][]byte
}

func (s *recordingSNS) Publish(_ context.Context, _ string, message []byte) error {
	s.messages = append(s.messages, message)
	return nil
}
