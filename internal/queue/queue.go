// Package queue holds the in-memory task table: four priority FIFO
// sub-queues, the dependency DAG between pending tasks, and the
// promotion/cascade logic that moves tasks between states as their
// dependencies resolve.
package queue

import (
	"container/list"
	"errors"
	"sync"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/task"
)

var (
	ErrCyclicDependency = errors.New("task graph contains a cycle")
	ErrDependencyUnknown = errors.New("task depends on an unknown task id")
)

// Queue is the engine's single source of truth for task state.
type Queue struct {
	mu sync.Mutex

	tasks map[string]*task.Task

	// ready holds one FIFO list per priority, dispatched in descending
	// priority order, matching the teacher's critical->high->normal->low
	// stream iteration idiom.
	ready map[task.Priority]*list.List

	// dependents maps a task ID to the IDs of tasks that depend on it,
	// i.e. the reverse-dependency index used to promote/cascade.
	dependents map[string]map[string]bool

	// pendingCount tracks outstanding (unsatisfied) dependency counts per task.
	pendingCount map[string]int
}

// New constructs an empty Queue.
func New() *Queue {
	ready := make(map[task.Priority]*list.List, len(task.Priorities()))
	for _, p := range task.Priorities() {
		ready[p] = list.New()
	}
	return &Queue{
		tasks:        make(map[string]*task.Task),
		ready:        ready,
		dependents:   make(map[string]map[string]bool),
		pendingCount: make(map[string]int),
	}
}

// Add inserts a new task into the queue, validating that its dependency
// IDs are known and that the resulting graph has no cycle. A task with no
// unresolved dependencies is promoted straight to ready.
func (q *Queue) Add(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[t.ID]; exists {
		return task.ErrTaskAlreadyExists
	}

	for dep := range t.DependsOn {
		if _, ok := q.tasks[dep]; !ok {
			return ErrDependencyUnknown
		}
	}

	q.tasks[t.ID] = t
	if q.wouldCycle(t.ID) {
		delete(q.tasks, t.ID)
		return ErrCyclicDependency
	}

	outstanding := 0
	alreadyFailed := false
	for dep := range t.DependsOn {
		if q.dependents[dep] == nil {
			q.dependents[dep] = make(map[string]bool)
		}
		q.dependents[dep][t.ID] = true

		switch q.tasks[dep].State {
		case task.StateCompleted:
			// satisfied, no contribution to outstanding count
		case task.StateFailed, task.StateCancelled:
			alreadyFailed = true
		default:
			outstanding++
		}
	}
	q.pendingCount[t.ID] = outstanding

	switch {
	case alreadyFailed:
		_ = task.NewStateMachine(t).Cancel("upstream-failed")
	case outstanding == 0:
		_ = task.NewStateMachine(t).MarkReady()
		q.pushReady(t)
	}

	q.updateDepthMetrics()
	return nil
}

// wouldCycle runs a DFS from id through the dependency edges (id depends on
// dep, so the edge runs id -> dep) looking for a path back to id.
func (q *Queue) wouldCycle(id string) bool {
	visited := make(map[string]int) // 0 = unvisited, 1 = in progress, 2 = done
	var visit func(string) bool
	visit = func(n string) bool {
		if visited[n] == 1 {
			return true
		}
		if visited[n] == 2 {
			return false
		}
		visited[n] = 1
		t, ok := q.tasks[n]
		if ok {
			for dep := range t.DependsOn {
				if visit(dep) {
					return true
				}
			}
		}
		visited[n] = 2
		return false
	}
	return visit(id)
}

func (q *Queue) pushReady(t *task.Task) {
	q.ready[t.Priority].PushBack(t)
}

// NextReady pops the highest-priority, oldest-enqueued ready task, or
// returns nil if none is available. Non-blocking.
func (q *Queue) NextReady() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextReadyLocked()
}

func (q *Queue) nextReadyLocked() *task.Task {
	for _, p := range task.Priorities() {
		l := q.ready[p]
		if front := l.Front(); front != nil {
			l.Remove(front)
			q.updateDepthMetrics()
			return front.Value.(*task.Task)
		}
	}
	return nil
}

// PushBackToFront returns a dispatched-but-unassignable task (no worker was
// available) to the front of its priority bucket so it is retried first.
func (q *Queue) PushBackToFront(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready[t.Priority].PushFront(t)
	q.updateDepthMetrics()
}

// Finish records a dispatcher's execution result for a RUNNING task,
// routing to Complete or Fail depending on the result's exit code/error,
// matching the contract that a single completion notice decides the
// outcome rather than the caller picking ahead of time.
func (q *Queue) Finish(id string, result *task.Result) ([]*task.Task, error) {
	if result != nil && (result.ExitCode != 0 || result.Error != "") {
		reason := result.Error
		if reason == "" {
			reason = "non-zero exit"
		}
		q.mu.Lock()
		t, ok := q.tasks[id]
		if ok {
			t.Result = result
		}
		q.mu.Unlock()
		return q.Fail(id, reason)
	}
	return q.Complete(id, result)
}

// Complete marks a task completed and promotes any dependents whose last
// outstanding dependency this satisfies.
func (q *Queue) Complete(id string, result *task.Result) ([]*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	if err := task.NewStateMachine(t).Complete(result); err != nil {
		return nil, err
	}
	metrics.IncTaskOutcome("completed")

	var promoted []*task.Task
	for depID := range q.dependents[id] {
		q.pendingCount[depID]--
		if q.pendingCount[depID] <= 0 {
			dep := q.tasks[depID]
			if dep.State == task.StatePending {
				_ = task.NewStateMachine(dep).MarkReady()
				q.pushReady(dep)
				promoted = append(promoted, dep)
			}
		}
	}
	q.updateDepthMetrics()
	return promoted, nil
}

// Fail marks a task failed and cascades cancellation ("upstream-failed") to
// every transitive dependent still pending or ready.
func (q *Queue) Fail(id string, reason string) ([]*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	if err := task.NewStateMachine(t).Fail(reason); err != nil {
		return nil, err
	}
	metrics.IncTaskOutcome("failed")

	cancelled := q.cascadeCancel(id)
	q.updateDepthMetrics()
	return cancelled, nil
}

// Cancel marks a task cancelled and cascades to its dependents.
func (q *Queue) Cancel(id string, reason string) ([]*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	if t.State.IsFinal() {
		return nil, task.ErrInvalidTransition
	}
	if t.State == task.StateReady {
		q.removeFromReady(t)
	}
	if err := task.NewStateMachine(t).Cancel(reason); err != nil {
		return nil, err
	}
	metrics.IncTaskOutcome("cancelled")

	cancelled := q.cascadeCancel(id)
	q.updateDepthMetrics()
	return cancelled, nil
}

// cascadeCancel walks the dependents of id breadth-first, cancelling every
// non-terminal descendant with reason "upstream-failed".
func (q *Queue) cascadeCancel(id string) []*task.Task {
	var cancelled []*task.Task
	queue := []string{id}
	seen := map[string]bool{id: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for depID := range q.dependents[cur] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			dep := q.tasks[depID]
			if dep == nil || dep.State.IsFinal() {
				continue
			}
			if dep.State == task.StateReady {
				q.removeFromReady(dep)
			}
			if err := task.NewStateMachine(dep).Cancel("upstream-failed"); err == nil {
				cancelled = append(cancelled, dep)
				queue = append(queue, depID)
			}
		}
	}

	if len(cancelled) > 0 {
		logger.WithComponent("queue").Warn().
			Int("count", len(cancelled)).
			Str("root", id).
			Msg("cascaded cancellation to dependents")
	}
	return cancelled
}

func (q *Queue) removeFromReady(t *task.Task) {
	l := q.ready[t.Priority]
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*task.Task).ID == t.ID {
			l.Remove(e)
			return
		}
	}
}

// Get returns a task by ID.
func (q *Queue) Get(id string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

// Snapshot returns every task currently known to the queue.
func (q *Queue) Snapshot() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t)
	}
	return out
}

// Depth returns the number of ready tasks waiting in a given priority bucket.
func (q *Queue) Depth(p task.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready[p].Len()
}

func (q *Queue) updateDepthMetrics() {
	for _, p := range task.Priorities() {
		metrics.SetQueueDepth(p.String(), float64(q.ready[p].Len()))
	}
}
