package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/api"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/worker"
	"github.com/maumercado/task-queue-go/internal/workflow"
)

func newTestBackend(t *testing.T) (*httptest.Server, func()) {
	p := pool.New(pool.Options{MaxInstances: 4, WorkerConfig: worker.Config{Command: "/bin/cat"}})
	ctx := context.Background()
	_, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	q := queue.New()
	bus := events.New(16)
	orch := orchestrator.New(p, q, bus, orchestrator.Options{Dispatchers: 2, IdleSleep: 10 * time.Millisecond})
	orch.Start(ctx)

	exec := workflow.New(orch)
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"}}
	srv := api.NewServer(cfg, orch, exec)

	ts := httptest.NewServer(srv)
	return ts, func() {
		ts.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Stop(shutdownCtx)
	}
}

func TestClient_CheckHealth(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	ok, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_SubmitAndGetTask(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	created, err := c.SubmitTask(context.Background(), CreateTaskRequest{
		Name:     "greet",
		Prompt:   "hello",
		Priority: "high",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "high", created.Priority)

	fetched, err := c.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestClient_SubmitTaskMissingPayloadErrors(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	_, err = c.SubmitTask(context.Background(), CreateTaskRequest{Name: "bad"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestClient_GetUnknownTaskReturns404(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	_, err = c.GetTask(context.Background(), "does-not-exist")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestClient_SpawnAndListInstances(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	ids, err := c.SpawnInstances(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	instances, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	assert.Len(t, instances, 3)
}

func TestClient_CancelTask(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	upstream, err := c.SubmitTask(context.Background(), CreateTaskRequest{Name: "upstream", Prompt: "slow"})
	require.NoError(t, err)

	blocked, err := c.SubmitTask(context.Background(), CreateTaskRequest{
		Name:      "blocked",
		Prompt:    "x",
		DependsOn: []string{upstream.ID},
	})
	require.NoError(t, err)

	cancelled, err := c.CancelTask(context.Background(), blocked.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestClient_Status(t *testing.T) {
	ts, stop := newTestBackend(t)
	defer stop()

	c, err := New(ts.URL)
	require.NoError(t, err)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, status.Instances)
}
