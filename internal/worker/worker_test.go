package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/task"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		s        State
		expected string
	}{
		{StateStarting, "starting"},
		{StateIdle, "idle"},
		{StateBusy, "busy"},
		{StateUnhealthy, "unhealthy"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.s.String())
		})
	}
}

func TestWorker_StartExecuteStop(t *testing.T) {
	w := New(Config{Command: "/bin/cat"})
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	assert.Equal(t, StateIdle, w.State())
	assert.True(t, w.HealthProbe())

	result, err := w.Execute(ctx, task.Payload{Prompt: "hello"}, 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello")
	assert.Equal(t, StateIdle, w.State())

	require.NoError(t, w.Stop(2*time.Second))
	assert.Equal(t, StateTerminated, w.State())
	assert.False(t, w.HealthProbe())
}

func TestWorker_ExecuteTimeout(t *testing.T) {
	w := New(Config{Command: "/bin/sleep", Args: []string{"100"}})
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(time.Second)

	_, err := w.Execute(ctx, task.Payload{Command: "irrelevant"}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
}

// TestWorker_ExecuteAcceptsPoolAcquiredBusyState covers the pool-mediated
// call path: Pool.Acquire flips a worker idle->busy before handing it to a
// dispatcher, so by the time Execute runs, the worker is already Busy.
// Execute must treat that as the normal case, not reject it.
func TestWorker_ExecuteAcceptsPoolAcquiredBusyState(t *testing.T) {
	w := New(Config{Command: "/bin/cat"})
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(time.Second)

	require.True(t, w.TryMarkBusy())

	result, err := w.Execute(ctx, task.Payload{Prompt: "x"}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "x")
	assert.Equal(t, StateIdle, w.State())
}

func TestWorker_ExecuteRejectsUnhealthyState(t *testing.T) {
	w := New(Config{Command: "/bin/cat"})
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(time.Second)

	w.MarkUnhealthy()

	_, err := w.Execute(ctx, task.Payload{Prompt: "x"}, time.Second)
	assert.ErrorIs(t, err, ErrWorkerNotRunning)
}

func TestWorker_TryMarkBusyRejectsAlreadyBusy(t *testing.T) {
	w := New(Config{Command: "/bin/cat"})
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(time.Second)

	require.True(t, w.TryMarkBusy())
	assert.False(t, w.TryMarkBusy())
}

func TestRingBuffer_DropsOldestWhenFull(t *testing.T) {
	rb := newRingBuffer(8)
	_, _ = rb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", rb.String())
	assert.Equal(t, 10, rb.Len())
}
