package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/task"
	"github.com/maumercado/task-queue-go/internal/worker"
)

func newTestExecutor(t *testing.T) (*Executor, *orchestrator.Orchestrator, func()) {
	p := pool.New(pool.Options{MaxInstances: 4, WorkerConfig: worker.Config{Command: "/bin/cat"}})
	ctx := context.Background()
	_, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	q := queue.New()
	bus := events.New(16)
	orch := orchestrator.New(p, q, bus, orchestrator.Options{Dispatchers: 2, IdleSleep: 10 * time.Millisecond})
	orch.Start(ctx)

	return New(orch), orch, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Stop(shutdownCtx)
	}
}

func TestParse_ValidDocument(t *testing.T) {
	data := []byte(`
name: build-and-test
instances: 2
tasks:
  - name: build
    command: "go build ./..."
  - name: test
    command: "go test ./..."
    depends_on: [build]
`)
	doc, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "build-and-test", doc.Name)
	assert.Len(t, doc.Tasks, 2)
}

func TestDocument_ValidateDuplicateName(t *testing.T) {
	doc := &Document{Tasks: []TaskSpec{
		{Name: "a", Prompt: "x"},
		{Name: "a", Prompt: "y"},
	}}
	_, err := doc.validate()
	assert.ErrorIs(t, err, ErrWorkflowInvalid)
}

func TestDocument_ValidateUnknownDependency(t *testing.T) {
	doc := &Document{Tasks: []TaskSpec{
		{Name: "a", Prompt: "x", DependsOn: []string{"ghost"}},
	}}
	_, err := doc.validate()
	assert.ErrorIs(t, err, ErrWorkflowInvalid)
}

func TestDocument_ValidateCycle(t *testing.T) {
	doc := &Document{Tasks: []TaskSpec{
		{Name: "a", Prompt: "x", DependsOn: []string{"b"}},
		{Name: "b", Prompt: "y", DependsOn: []string{"a"}},
	}}
	_, err := doc.validate()
	assert.ErrorIs(t, err, ErrWorkflowInvalid)
}

func TestDocument_ValidateMissingPayload(t *testing.T) {
	doc := &Document{Tasks: []TaskSpec{{Name: "a"}}}
	_, err := doc.validate()
	assert.ErrorIs(t, err, ErrWorkflowInvalid)
}

func TestExecutor_ExecuteSimpleChain(t *testing.T) {
	exec, _, stop := newTestExecutor(t)
	defer stop()

	doc := &Document{
		Name:      "chain",
		Instances: 2,
		Tasks: []TaskSpec{
			{Name: "first", Prompt: "hello"},
			{Name: "second", Prompt: "world", DependsOn: []string{"first"}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := exec.Execute(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "chain", result.Name)
	assert.Equal(t, task.StateCompleted, result.Outcome["first"].State)
	assert.Equal(t, task.StateCompleted, result.Outcome["second"].State)
}

func TestExecutor_ExecuteRejectsInvalidDocument(t *testing.T) {
	exec, _, stop := newTestExecutor(t)
	defer stop()

	doc := &Document{Tasks: []TaskSpec{{Name: "a", Prompt: "x", DependsOn: []string{"ghost"}}}}
	_, err := exec.Execute(context.Background(), doc)
	assert.ErrorIs(t, err, ErrWorkflowInvalid)
}

func TestResolveInstance(t *testing.T) {
	idle := []string{"w1", "w2", "w3"}

	id, ok := resolveInstance(idle, 2)
	require.True(t, ok)
	assert.Equal(t, "w2", id)

	_, ok = resolveInstance(idle, 5)
	assert.False(t, ok)
}
