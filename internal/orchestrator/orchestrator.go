// Package orchestrator runs the dispatch loops that bind the TaskQueue to
// the InstancePool: W cooperative dispatchers that pull ready tasks,
// acquire a worker, execute, and record the result, plus the public entry
// points used by the REST/WS/workflow layers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/task"
	"github.com/maumercado/task-queue-go/internal/worker"
)

// Options configures the Orchestrator.
type Options struct {
	// Dispatchers is the number of concurrent dispatch loops (W in the
	// design). When unset it defaults to 4; it is not derived from the
	// pool's MaxInstances.
	Dispatchers int
	// IdleSleep bounds how long a dispatcher waits, when nothing is ready
	// or no worker is available, before retrying.
	IdleSleep time.Duration
	// TerminateGrace is the grace period given to a worker on cancellation
	// or shutdown before it is force-killed.
	TerminateGrace time.Duration
}

// Orchestrator owns the Pool and the Queue exclusively, and pumps tasks
// between them via a fixed set of dispatcher goroutines.
type Orchestrator struct {
	opts  Options
	pool  *pool.Pool
	queue *queue.Queue
	bus   *events.Bus

	mu          sync.Mutex
	cancelFlags map[string]bool // task IDs with a pending "cancel requested"

	stopCh   chan struct{}
	wakeCh   chan struct{}
	draining bool
	wg       sync.WaitGroup
}

// New constructs an Orchestrator bound to the given Pool, Queue and EventBus.
func New(p *pool.Pool, q *queue.Queue, bus *events.Bus, opts Options) *Orchestrator {
	if opts.Dispatchers <= 0 {
		opts.Dispatchers = 4
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = 50 * time.Millisecond
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 5 * time.Second
	}
	return &Orchestrator{
		opts:        opts,
		pool:        p,
		queue:       q,
		bus:         bus,
		cancelFlags: make(map[string]bool),
		stopCh:      make(chan struct{}),
		wakeCh:      make(chan struct{}, 1),
	}
}

// Start launches the configured number of dispatcher loops and the pool's
// health sweep.
func (o *Orchestrator) Start(ctx context.Context) {
	o.pool.StartHealthSweep(ctx)
	for i := 0; i < o.opts.Dispatchers; i++ {
		o.wg.Add(1)
		go o.dispatchLoop(ctx, i)
	}
	logger.WithComponent("orchestrator").Info().
		Int("dispatchers", o.opts.Dispatchers).
		Msg("dispatch loops started")
}

// signalWork wakes a sleeping dispatcher. Non-blocking: if one wakeup is
// already pending, this is a no-op.
func (o *Orchestrator) signalWork() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatchLoop(ctx context.Context, id int) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		if o.isDraining() {
			return
		}

		t := o.queue.NextReady()
		if t == nil {
			o.sleep(ctx)
			continue
		}

		w, err := o.pool.Acquire(t.PinnedInstance)
		if err != nil {
			o.queue.PushBackToFront(t)
			o.sleep(ctx)
			continue
		}

		o.runTask(ctx, t, w)
	}
}

func (o *Orchestrator) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-o.stopCh:
	case <-o.wakeCh:
	case <-time.After(o.opts.IdleSleep):
	}
}

func (o *Orchestrator) runTask(ctx context.Context, t *task.Task, w *worker.Worker) {
	readyAt := t.UpdatedAt
	_ = task.NewStateMachine(t).Start(w.ID)
	metrics.ObserveDispatchLatency(time.Since(readyAt).Seconds())
	o.bus.Publish(events.KindTaskStarted, map[string]interface{}{"task_id": t.ID, "worker_id": w.ID})

	start := time.Now()
	result, execErr := w.Execute(ctx, t.Payload, t.Timeout)
	duration := time.Since(start)

	newState := worker.StateIdle
	var taskResult *task.Result
	if execErr != nil {
		newState = worker.StateUnhealthy
		reason := classifyExecError(execErr, o.wasCancelRequested(t.ID))
		taskResult = &task.Result{ExitCode: 1, Error: reason, Duration: duration}
	} else {
		taskResult = &task.Result{Output: result.Output, ExitCode: result.ExitCode, Duration: duration}
	}

	o.clearCancelFlag(t.ID)

	if newState == worker.StateUnhealthy {
		w.MarkUnhealthy()
	}
	o.pool.Release(w)

	promotedOrCancelled, _ := o.queue.Finish(t.ID, taskResult)

	// A single completion notice fires regardless of outcome; the terminal
	// state in the payload distinguishes success from failure.
	o.bus.Publish(events.KindTaskCompleted, map[string]interface{}{
		"task_id": t.ID,
		"state":   t.State.String(),
	})
	for _, dep := range promotedOrCancelled {
		if dep.State == task.StateReady {
			o.bus.Publish(events.KindTaskReady, map[string]interface{}{"task_id": dep.ID})
			o.signalWork()
		} else if dep.State == task.StateCancelled {
			o.bus.Publish(events.KindTaskCancelled, map[string]interface{}{"task_id": dep.ID, "reason": dep.FailureReason})
		}
	}
}

func classifyExecError(err error, cancelRequested bool) string {
	if cancelRequested {
		return "cancelled"
	}
	if err == worker.ErrExecutionTimeout {
		return "timeout"
	}
	return "process-exited"
}

// RequestCancel marks a task for cancellation. For PENDING/READY tasks this
// is instant via the Queue; for a RUNNING task it sets a cancel flag and
// stops the task's worker itself, and the owning dispatcher, seeing the
// flag when Execute returns, records the run's error as "cancelled".
func (o *Orchestrator) RequestCancel(taskID string) (bool, error) {
	t, ok := o.queue.Get(taskID)
	if !ok {
		return false, task.ErrTaskNotFound
	}

	switch t.State {
	case task.StatePending, task.StateReady:
		_, err := o.queue.Cancel(taskID, "cancelled by request")
		if err != nil {
			return false, err
		}
		o.bus.Publish(events.KindTaskCancelled, map[string]interface{}{"task_id": taskID})
		return true, nil
	case task.StateRunning:
		o.mu.Lock()
		o.cancelFlags[taskID] = true
		workerID := t.AssignedWorker
		o.mu.Unlock()

		if w, ok := o.pool.Get(workerID); ok {
			go func() { _ = w.Stop(o.opts.TerminateGrace) }()
		}
		return true, nil
	default:
		return false, nil
	}
}

func (o *Orchestrator) wasCancelRequested(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelFlags[taskID]
}

func (o *Orchestrator) clearCancelFlag(taskID string) {
	o.mu.Lock()
	delete(o.cancelFlags, taskID)
	o.mu.Unlock()
}

func (o *Orchestrator) isDraining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining
}

// Submit validates and inserts a new task, publishing task-submitted (and
// task-ready if it has no unresolved dependencies).
func (o *Orchestrator) Submit(t *task.Task) error {
	if o.isDraining() {
		return fmt.Errorf("orchestrator is shutting down, not accepting new submissions")
	}
	if err := o.queue.Add(t); err != nil {
		return err
	}
	o.bus.Publish(events.KindTaskSubmitted, map[string]interface{}{"task_id": t.ID})
	if t.State == task.StateReady {
		o.bus.Publish(events.KindTaskReady, map[string]interface{}{"task_id": t.ID})
	}
	o.signalWork()
	return nil
}

// SubmitBatch inserts every task, in order, stopping at the first error.
// Tasks already added before the failing one are not rolled back — callers
// needing atomicity should validate the whole batch (see workflow package)
// before calling Submit/SubmitBatch.
func (o *Orchestrator) SubmitBatch(tasks []*task.Task) error {
	for _, t := range tasks {
		if err := o.Submit(t); err != nil {
			return err
		}
	}
	return nil
}

// Stop begins graceful shutdown: stop accepting submissions, let running
// dispatchers drain (finish current task, pick no more), then terminate
// the pool.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()

	close(o.stopCh)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.WithComponent("orchestrator").Warn().Msg("shutdown deadline exceeded, terminating pool anyway")
	}

	o.pool.Shutdown(o.opts.TerminateGrace)
	return nil
}

// Pool exposes the underlying pool for REST handlers.
func (o *Orchestrator) Pool() *pool.Pool { return o.pool }

// Queue exposes the underlying queue for REST handlers.
func (o *Orchestrator) Queue() *queue.Queue { return o.queue }

// Bus exposes the underlying event bus for WS handlers.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }
