package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hookServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []models.WebhookPayload
}

func newHookServer(t *testing.T, status int) *hookServer {
	t.Helper()
	hs := &hookServer{}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		hs.mu.Lock()
		hs.bodies = append(hs.bodies, p)
		hs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(hs.Close)
	return hs
}

func TestDispatch_QueuesOneTaskPerEnabledHook(t *testing.T) {
	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: "http://a", EventType: models.EventImportFinished, Enabled: true},
		2: {ID: 2, URL: "http://b", EventType: models.EventImportFinished, Enabled: false},
		3: {ID: 3, URL: "http://c", EventType: models.EventProductCreated, Enabled: true},
		4: {ID: 4, URL: "http://d", EventType: models.EventImportFinished, Enabled: true},
	}}
	q := &memQueue{}
	d := services.NewWebhookDispatcher(hooks, &memDeliveries{}, q, time.Second, nil, zap.NewNop())

	jobID := int64(12)
	n := d.Dispatch(context.Background(), models.EventImportFinished, models.WebhookPayload{JobID: &jobID})
	assert.Equal(t, 2, n)

	tasks := q.all()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, queue.TaskWebhookDeliver, task.Type)
		assert.Equal(t, models.EventImportFinished, task.Event)
		assert.Equal(t, int64(12), task.JobID)
	}
	assert.ElementsMatch(t, []int64{1, 4}, []int64{tasks[0].WebhookID, tasks[1].WebhookID})
}

func TestDispatch_EnqueueFailureIsSwallowed(t *testing.T) {
	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: "http://a", EventType: models.EventImportFinished, Enabled: true},
	}}
	q := &memQueue{enqueueErr: assert.AnError}
	d := services.NewWebhookDispatcher(hooks, &memDeliveries{}, q, time.Second, nil, zap.NewNop())

	assert.Zero(t, d.Dispatch(context.Background(), models.EventImportFinished, models.WebhookPayload{}))
}

func TestDeliver_Success(t *testing.T) {
	srv := newHookServer(t, http.StatusNoContent)
	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: srv.URL, EventType: models.EventImportFinished, Enabled: true},
	}}
	deliveries := &memDeliveries{}
	d := services.NewWebhookDispatcher(hooks, deliveries, &memQueue{}, time.Second, nil, zap.NewNop())

	err := d.Deliver(context.Background(), queue.NewWebhookTask(1, models.EventImportFinished, 5, nil))
	require.NoError(t, err)

	require.Len(t, srv.bodies, 1)
	assert.Equal(t, models.EventImportFinished, srv.bodies[0].Event)
	require.NotNil(t, srv.bodies[0].JobID)
	assert.Equal(t, int64(5), *srv.bodies[0].JobID)
	assert.Nil(t, srv.bodies[0].ProductID)

	require.Len(t, deliveries.saved, 1)
	assert.Equal(t, models.DeliveryStatusDelivered, deliveries.saved[0].Status)
	assert.Equal(t, http.StatusNoContent, deliveries.saved[0].StatusCode)
}

func TestDeliver_ServerErrorRecordedNotReturned(t *testing.T) {
	srv := newHookServer(t, http.StatusInternalServerError)
	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: srv.URL, EventType: models.EventProductUpdated, Enabled: true},
	}}
	deliveries := &memDeliveries{}
	d := services.NewWebhookDispatcher(hooks, deliveries, &memQueue{}, time.Second, nil, zap.NewNop())

	productID := int64(77)
	err := d.Deliver(context.Background(), queue.NewWebhookTask(1, models.EventProductUpdated, 0, &productID))
	assert.NoError(t, err)

	require.Len(t, srv.bodies, 1, "single attempt")
	assert.Nil(t, srv.bodies[0].JobID)
	require.NotNil(t, srv.bodies[0].ProductID)
	assert.Equal(t, int64(77), *srv.bodies[0].ProductID)

	require.Len(t, deliveries.saved, 1)
	assert.Equal(t, models.DeliveryStatusFailed, deliveries.saved[0].Status)
	assert.Equal(t, http.StatusInternalServerError, deliveries.saved[0].StatusCode)
	assert.Contains(t, deliveries.saved[0].Error, "500")
}

func TestDeliver_TimeoutRecorded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: srv.URL, EventType: models.EventImportFinished, Enabled: true},
	}}
	deliveries := &memDeliveries{}
	d := services.NewWebhookDispatcher(hooks, deliveries, &memQueue{}, 50*time.Millisecond, nil, zap.NewNop())

	assert.NoError(t, d.Deliver(context.Background(), queue.NewWebhookTask(1, models.EventImportFinished, 1, nil)))
	require.Len(t, deliveries.saved, 1)
	assert.Equal(t, models.DeliveryStatusFailed, deliveries.saved[0].Status)
	assert.Zero(t, deliveries.saved[0].StatusCode)
	assert.NotEmpty(t, deliveries.saved[0].Error)
}

func TestDeliver_DisabledOrRemovedHookSkipped(t *testing.T) {
	srv := newHookServer(t, http.StatusOK)
	hooks := &memWebhooks{hooks: map[int64]models.Webhook{
		1: {ID: 1, URL: srv.URL, EventType: models.EventImportFinished, Enabled: false},
	}}
	deliveries := &memDeliveries{}
	d := services.NewWebhookDispatcher(hooks, deliveries, &memQueue{}, time.Second, nil, zap.NewNop())

	assert.NoError(t, d.Deliver(context.Background(), queue.NewWebhookTask(1, models.EventImportFinished, 1, nil)))
	assert.NoError(t, d.Deliver(context.Background(), queue.NewWebhookTask(99, models.EventImportFinished, 1, nil)))
	assert.Empty(t, srv.bodies)
	assert.Empty(t, deliveries.saved)
}
