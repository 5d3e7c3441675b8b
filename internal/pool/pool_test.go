package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/worker"
)

func testOptions() Options {
	return Options{
		MaxInstances: 4,
		WorkerConfig: worker.Config{Command: "/bin/cat"},
	}
}

func TestPool_SpawnAndSize(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()

	workers, err := p.Spawn(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, workers, 2)
	assert.Equal(t, 2, p.Size())

	t.Cleanup(func() { p.Shutdown(time.Second) })
}

func TestPool_SpawnRefusesOverCapacity(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()

	_, err := p.Spawn(ctx, 5)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 0, p.Size())
}

func TestPool_AcquireReleaseLRU(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	workers, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	w1, err := p.Acquire("")
	require.NoError(t, err)
	assert.Equal(t, workers[0].ID, w1.ID)

	p.Release(w1)

	w2, err := p.Acquire("")
	require.NoError(t, err)
	assert.Equal(t, workers[1].ID, w2.ID)
}

func TestPool_AcquirePinned(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	workers, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	w, err := p.Acquire(workers[1].ID)
	require.NoError(t, err)
	assert.Equal(t, workers[1].ID, w.ID)
}

func TestPool_AcquireNoneAvailable(t *testing.T) {
	p := New(testOptions())
	_, err := p.Acquire("")
	assert.ErrorIs(t, err, ErrNoneAvailable)
}

func TestPool_Terminate(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	workers, err := p.Spawn(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, p.Terminate(workers[0].ID, time.Second))
	assert.Equal(t, 0, p.Size())

	_, ok := p.Get(workers[0].ID)
	assert.False(t, ok)
}

func TestPool_ScaleToUp(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	require.NoError(t, p.ScaleTo(ctx, 3))
	assert.Equal(t, 3, p.Size())
}

func TestPool_ScaleToDown(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	_, err := p.Spawn(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, p.ScaleTo(ctx, 1))
	assert.Equal(t, 1, p.Size())
}

func TestPool_ScaleToShortfallProceedsWithoutError(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()
	t.Cleanup(func() { p.Shutdown(time.Second) })

	require.NoError(t, p.ScaleTo(ctx, 10))
	assert.Equal(t, 4, p.Size())
}

func TestPool_Shutdown(t *testing.T) {
	p := New(testOptions())
	ctx := context.Background()

	_, err := p.Spawn(ctx, 2)
	require.NoError(t, err)

	p.Shutdown(time.Second)
	assert.Equal(t, 0, p.Size())
}
