// Package workflow translates a declarative YAML document into a batch of
// tasks with resolved dependency edges, submits them atomically to the
// Orchestrator, and awaits their terminal states.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/task"
	"github.com/maumercado/task-queue-go/internal/worker"
)

// ErrWorkflowInvalid wraps any validation failure in a workflow document.
var ErrWorkflowInvalid = errors.New("workflow invalid")

// TaskSpec is one task entry in a workflow document.
type TaskSpec struct {
	Name             string   `yaml:"name"`
	Prompt           string   `yaml:"prompt,omitempty"`
	Command          string   `yaml:"command,omitempty"`
	WorkingDirectory string   `yaml:"directory,omitempty"`
	Instance         int      `yaml:"instance,omitempty"`
	DependsOn        []string `yaml:"depends_on,omitempty"`
	Priority         string   `yaml:"priority,omitempty"`
	TimeoutSeconds   int      `yaml:"timeout,omitempty"`
}

// Document is the root of a workflow YAML file.
type Document struct {
	Name      string     `yaml:"name"`
	Instances int        `yaml:"instances"`
	Tasks     []TaskSpec `yaml:"tasks"`
}

// Parse decodes a workflow YAML document from raw bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkflowInvalid, err)
	}
	return &doc, nil
}

// validate checks name uniqueness, dependency resolution and cycles.
// Returns the resolved name->prospective-id map on success.
func (d *Document) validate() (map[string]string, error) {
	if len(d.Tasks) == 0 {
		return nil, fmt.Errorf("%w: workflow has no tasks", ErrWorkflowInvalid)
	}

	ids := make(map[string]string, len(d.Tasks))
	for _, ts := range d.Tasks {
		if ts.Name == "" {
			return nil, fmt.Errorf("%w: task with empty name", ErrWorkflowInvalid)
		}
		if _, dup := ids[ts.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q", ErrWorkflowInvalid, ts.Name)
		}
		if ts.Prompt == "" && ts.Command == "" {
			return nil, fmt.Errorf("%w: task %q has neither prompt nor command", ErrWorkflowInvalid, ts.Name)
		}
		ids[ts.Name] = "" // placeholder, filled with task.Task.ID once built
	}

	byName := make(map[string]*TaskSpec, len(d.Tasks))
	for i := range d.Tasks {
		byName[d.Tasks[i].Name] = &d.Tasks[i]
	}
	for _, ts := range d.Tasks {
		for _, dep := range ts.DependsOn {
			if _, ok := ids[dep]; !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown task %q", ErrWorkflowInvalid, ts.Name, dep)
			}
		}
	}

	visited := make(map[string]int)
	var visit func(string) bool
	visit = func(name string) bool {
		if visited[name] == 1 {
			return true
		}
		if visited[name] == 2 {
			return false
		}
		visited[name] = 1
		for _, dep := range byName[name].DependsOn {
			if visit(dep) {
				return true
			}
		}
		visited[name] = 2
		return false
	}
	for _, ts := range d.Tasks {
		if visit(ts.Name) {
			return nil, fmt.Errorf("%w: dependency cycle involving %q", ErrWorkflowInvalid, ts.Name)
		}
	}

	return ids, nil
}

// Result aggregates a workflow's outcome keyed by task name.
type Result struct {
	Name    string
	Outcome map[string]*task.Task
}

// Executor runs workflow documents against an Orchestrator.
type Executor struct {
	orch *orchestrator.Orchestrator
}

// New constructs an Executor bound to the given Orchestrator.
func New(orch *orchestrator.Orchestrator) *Executor {
	return &Executor{orch: orch}
}

// Execute validates, scales the pool, pins instance indices, submits the
// batch atomically, and awaits terminal state of every task before
// returning the aggregated results.
func (e *Executor) Execute(ctx context.Context, doc *Document) (*Result, error) {
	log := logger.WithComponent("workflow")

	ids, err := doc.validate()
	if err != nil {
		return nil, err
	}

	if doc.Instances > e.orch.Pool().Size() {
		if err := e.orch.Pool().ScaleTo(ctx, doc.Instances); err != nil {
			log.Warn().Err(err).Msg("workflow scale_to failed, proceeding with current pool size")
		}
	}

	tasks := make([]*task.Task, 0, len(doc.Tasks))
	byName := make(map[string]*task.Task, len(doc.Tasks))
	idleByIndex := e.snapshotIdleWorkers()

	for _, ts := range doc.Tasks {
		deps := make([]string, 0, len(ts.DependsOn))
		for _, depName := range ts.DependsOn {
			deps = append(deps, byName[depName].ID)
		}

		priority := task.PriorityNormal
		if ts.Priority != "" {
			priority = task.ParsePriority(ts.Priority)
		}

		t := task.New(ts.Name, task.Payload{
			Prompt:           ts.Prompt,
			Command:          ts.Command,
			WorkingDirectory: ts.WorkingDirectory,
		}, priority, deps)

		if ts.TimeoutSeconds > 0 {
			t.Timeout = time.Duration(ts.TimeoutSeconds) * time.Second
		}

		if ts.Instance > 0 {
			if workerID, ok := resolveInstance(idleByIndex, ts.Instance); ok {
				t.PinnedInstance = workerID
			} else {
				log.Warn().Str("task", ts.Name).Int("instance", ts.Instance).
					Msg("instance index could not be pinned, submitting unpinned")
			}
		}

		ids[ts.Name] = t.ID
		byName[ts.Name] = t
		tasks = append(tasks, t)
	}

	// Document-level validation above guarantees every dependency name
	// resolves and the graph is acyclic, so submission below cannot fail
	// for structural reasons — this is what makes the batch atomic at the
	// queue boundary without needing a rollback path.
	if err := e.orch.SubmitBatch(tasks); err != nil {
		return nil, fmt.Errorf("workflow submit: %w", err)
	}

	e.awaitTerminal(ctx, tasks)

	e.orch.Bus().Publish("workflow-completed", map[string]interface{}{"workflow": doc.Name})

	outcome := make(map[string]*task.Task, len(tasks))
	for name, t := range byName {
		outcome[name] = t
	}
	return &Result{Name: doc.Name, Outcome: outcome}, nil
}

// snapshotIdleWorkers returns idle worker IDs in ascending-ID order, used
// to resolve 1-based instance indices deterministically.
func (e *Executor) snapshotIdleWorkers() []string {
	workers := e.orch.Pool().Workers()
	ids := make([]string, 0, len(workers))
	for _, w := range workers {
		if w.State() == worker.StateIdle {
			ids = append(ids, w.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// resolveInstance maps a 1-based instance index to a worker ID.
func resolveInstance(idleByIndex []string, instance int) (string, bool) {
	i := instance - 1
	if i < 0 || i >= len(idleByIndex) {
		return "", false
	}
	return idleByIndex[i], true
}

// awaitTerminal polls until every task reaches a terminal state or the
// context is cancelled.
func (e *Executor) awaitTerminal(ctx context.Context, tasks []*task.Task) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		allDone := true
		for _, t := range tasks {
			cur, ok := e.orch.Queue().Get(t.ID)
			if ok && !cur.State.IsFinal() {
				allDone = false
				break
			}
		}
		if allDone {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
