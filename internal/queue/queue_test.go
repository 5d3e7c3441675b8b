package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/task"
)

func mk(name string, p task.Priority, deps ...string) *task.Task {
	return task.New(name, task.Payload{Prompt: name}, p, deps)
}

func TestQueue_AddNoDepsGoesReady(t *testing.T) {
	q := New()
	tk := mk("a", task.PriorityNormal)

	require.NoError(t, q.Add(tk))
	assert.Equal(t, task.StateReady, tk.State)
	assert.Equal(t, 1, q.Depth(task.PriorityNormal))
}

func TestQueue_AddWithUnknownDependencyFails(t *testing.T) {
	q := New()
	tk := mk("a", task.PriorityNormal, "missing")
	err := q.Add(tk)
	assert.ErrorIs(t, err, ErrDependencyUnknown)
}

func TestQueue_AddDuplicateFails(t *testing.T) {
	q := New()
	tk := mk("a", task.PriorityNormal)
	require.NoError(t, q.Add(tk))
	assert.ErrorIs(t, q.Add(tk), task.ErrTaskAlreadyExists)
}

func TestQueue_DispatchOrderPriorityThenFIFO(t *testing.T) {
	q := New()
	low := mk("low", task.PriorityLow)
	high1 := mk("high1", task.PriorityHigh)
	high2 := mk("high2", task.PriorityHigh)
	critical := mk("critical", task.PriorityCritical)

	require.NoError(t, q.Add(low))
	require.NoError(t, q.Add(high1))
	require.NoError(t, q.Add(high2))
	require.NoError(t, q.Add(critical))

	assert.Equal(t, critical.ID, q.NextReady().ID)
	assert.Equal(t, high1.ID, q.NextReady().ID)
	assert.Equal(t, high2.ID, q.NextReady().ID)
	assert.Equal(t, low.ID, q.NextReady().ID)
	assert.Nil(t, q.NextReady())
}

func TestQueue_DependencyPromotionOnComplete(t *testing.T) {
	q := New()
	upstream := mk("upstream", task.PriorityNormal)
	require.NoError(t, q.Add(upstream))

	downstream := mk("downstream", task.PriorityNormal, upstream.ID)
	require.NoError(t, q.Add(downstream))
	assert.Equal(t, task.StatePending, downstream.State)

	got := q.NextReady()
	require.Equal(t, upstream.ID, got.ID)

	promoted, err := q.Complete(upstream.ID, &task.Result{Output: "done"})
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, downstream.ID, promoted[0].ID)
	assert.Equal(t, task.StateReady, downstream.State)
}

func TestQueue_FinishRoutesToCompleteOnZeroExit(t *testing.T) {
	q := New()
	tk := mk("a", task.PriorityNormal)
	require.NoError(t, q.Add(tk))
	require.Equal(t, tk.ID, q.NextReady().ID)

	_, err := q.Finish(tk.ID, &task.Result{Output: "ok", ExitCode: 0})
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, tk.State)
}

func TestQueue_FinishRoutesToFailOnNonZeroExit(t *testing.T) {
	q := New()
	tk := mk("a", task.PriorityNormal)
	require.NoError(t, q.Add(tk))
	require.Equal(t, tk.ID, q.NextReady().ID)

	_, err := q.Finish(tk.ID, &task.Result{ExitCode: 1, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, tk.State)
	assert.Equal(t, "boom", tk.FailureReason)
	assert.Equal(t, "boom", tk.Result.Error)
}

func TestQueue_CycleDetectionRejectsAdd(t *testing.T) {
	q := New()

	a := mk("a", task.PriorityNormal)
	require.NoError(t, q.Add(a))

	b := mk("b", task.PriorityNormal, a.ID)
	require.NoError(t, q.Add(b))

	// Wire a -> b directly (bypassing Add, which would reject it as an
	// unknown dependency) so the dependency graph now has a <-> b, then
	// exercise wouldCycle via a third task that would close the loop.
	a.DependsOn[b.ID] = true
	a.DependsOnList = append(a.DependsOnList, b.ID)
	q.dependents[b.ID] = map[string]bool{a.ID: true}

	c := mk("c", task.PriorityNormal, a.ID)
	err := q.Add(c)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestQueue_CascadeCancelOnUpstreamFailure(t *testing.T) {
	q := New()
	upstream := mk("upstream", task.PriorityNormal)
	require.NoError(t, q.Add(upstream))

	downstream := mk("downstream", task.PriorityNormal, upstream.ID)
	require.NoError(t, q.Add(downstream))

	leaf := mk("leaf", task.PriorityNormal, downstream.ID)
	require.NoError(t, q.Add(leaf))

	require.Equal(t, upstream.ID, q.NextReady().ID)

	cancelled, err := q.Fail(upstream.ID, "boom")
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, c := range cancelled {
		ids[c.ID] = true
	}
	assert.True(t, ids[downstream.ID])
	assert.True(t, ids[leaf.ID])
	assert.Equal(t, task.StateCancelled, downstream.State)
	assert.Equal(t, "upstream-failed", downstream.FailureReason)
	assert.Equal(t, task.StateCancelled, leaf.State)
}

func TestQueue_CancelRemovesFromReadyAndCascades(t *testing.T) {
	q := New()
	upstream := mk("upstream", task.PriorityNormal)
	require.NoError(t, q.Add(upstream))

	downstream := mk("downstream", task.PriorityNormal, upstream.ID)
	require.NoError(t, q.Add(downstream))

	cancelled, err := q.Cancel(upstream.ID, "user requested")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, downstream.ID, cancelled[0].ID)

	assert.Nil(t, q.NextReady())
}

func TestQueue_PushBackToFrontRetriesFirst(t *testing.T) {
	q := New()
	a := mk("a", task.PriorityNormal)
	b := mk("b", task.PriorityNormal)
	require.NoError(t, q.Add(a))
	require.NoError(t, q.Add(b))

	got := q.NextReady()
	require.Equal(t, a.ID, got.ID)
	q.PushBackToFront(got)

	assert.Equal(t, a.ID, q.NextReady().ID)
	assert.Equal(t, b.ID, q.NextReady().ID)
}

func TestQueue_Snapshot(t *testing.T) {
	q := New()
	a := mk("a", task.PriorityNormal)
	require.NoError(t, q.Add(a))

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, a.ID, snap[0].ID)
}
