package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/task"
	"github.com/maumercado/task-queue-go/internal/worker"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, func()) {
	p := pool.New(pool.Options{MaxInstances: 2, WorkerConfig: worker.Config{Command: "/bin/cat"}})
	ctx := context.Background()
	_, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	q := queue.New()
	bus := events.New(16)
	o := New(p, q, bus, Options{Dispatchers: 2, IdleSleep: 10 * time.Millisecond, TerminateGrace: time.Second})
	o.Start(ctx)

	return o, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Stop(shutdownCtx)
	}
}

func waitForState(t *testing.T, q *queue.Queue, id string, want task.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tk, ok := q.Get(id)
		require.True(t, ok)
		if tk.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %s in time", id, want)
}

func TestOrchestrator_SubmitAndComplete(t *testing.T) {
	o, stop := newTestOrchestrator(t)
	defer stop()

	tk := task.New("t1", task.Payload{Prompt: "hello"}, task.PriorityNormal, nil)
	require.NoError(t, o.Submit(tk))

	waitForState(t, o.Queue(), tk.ID, task.StateCompleted, 2*time.Second)
	assert.Contains(t, tk.Result.Output, "hello")
}

func TestOrchestrator_DependencyChainCompletes(t *testing.T) {
	o, stop := newTestOrchestrator(t)
	defer stop()

	a := task.New("a", task.Payload{Prompt: "a"}, task.PriorityNormal, nil)
	require.NoError(t, o.Submit(a))

	b := task.New("b", task.Payload{Prompt: "b"}, task.PriorityNormal, []string{a.ID})
	require.NoError(t, o.Submit(b))

	waitForState(t, o.Queue(), b.ID, task.StateCompleted, 3*time.Second)
}

func TestOrchestrator_RejectsSubmissionAfterStop(t *testing.T) {
	o, stop := newTestOrchestrator(t)
	stop()

	tk := task.New("late", task.Payload{Prompt: "x"}, task.PriorityNormal, nil)
	err := o.Submit(tk)
	assert.Error(t, err)
}

func TestOrchestrator_CancelPendingTask(t *testing.T) {
	o, stop := newTestOrchestrator(t)
	defer stop()

	upstream := task.New("upstream", task.Payload{Prompt: "slow"}, task.PriorityNormal, nil)
	require.NoError(t, o.Submit(upstream))

	blocked := task.New("blocked", task.Payload{Prompt: "x"}, task.PriorityNormal, []string{upstream.ID})
	require.NoError(t, o.Submit(blocked))

	ok, err := o.RequestCancel(blocked.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	tk, _ := o.Queue().Get(blocked.ID)
	assert.Equal(t, task.StateCancelled, tk.State)
}
