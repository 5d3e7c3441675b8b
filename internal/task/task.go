package task

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for dispatch ordering. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// PriorityFromInt converts an integer (as accepted over the REST API) to a Priority.
func PriorityFromInt(i int) Priority {
	if i < 0 || i > 3 {
		return PriorityNormal
	}
	return Priority(i)
}

// Priorities lists every priority level in dispatch order, highest first.
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
}

// Payload is a discriminated union: exactly one of Prompt or Command is set.
type Payload struct {
	Prompt           string `json:"prompt,omitempty"`
	Command          string `json:"command,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// IsCommand reports whether the payload runs a shell command rather than a prompt.
func (p Payload) IsCommand() bool {
	return p.Command != ""
}

// Result is what a completed or failed task carries.
type Result struct {
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Task is a single unit of work submitted to the engine.
type Task struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Payload         Payload            `json:"payload"`
	Priority        Priority           `json:"priority"`
	DependsOn       map[string]bool    `json:"-"`
	DependsOnList   []string           `json:"depends_on,omitempty"`
	PinnedInstance  string             `json:"pinned_instance,omitempty"`
	Timeout         time.Duration      `json:"timeout"`
	State           State              `json:"state"`
	Result          *Result            `json:"result,omitempty"`
	AssignedWorker  string             `json:"assigned_worker,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

const DefaultTimeout = 5 * time.Minute

// New creates a new Task in PENDING state (or READY if it has no dependencies;
// the queue promotes it on add).
func New(name string, payload Payload, priority Priority, dependsOn []string) *Task {
	now := time.Now().UTC()
	deps := make(map[string]bool, len(dependsOn))
	for _, id := range dependsOn {
		deps[id] = true
	}
	return &Task{
		ID:            uuid.New().String(),
		Name:          name,
		Payload:       payload,
		Priority:      priority,
		DependsOn:     deps,
		DependsOnList: dependsOn,
		Timeout:       DefaultTimeout,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      make(map[string]string),
	}
}

// CreateTaskRequest is the REST/client-facing request to submit a task.
type CreateTaskRequest struct {
	Name             string            `json:"name"`
	Prompt           string            `json:"prompt,omitempty"`
	Command          string            `json:"command,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	DependsOn        []string          `json:"depends_on,omitempty"`
	PinnedInstance   string            `json:"pinned_instance,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// FromRequest builds a Task from a CreateTaskRequest.
func FromRequest(req *CreateTaskRequest) *Task {
	payload := Payload{
		Prompt:           req.Prompt,
		Command:          req.Command,
		WorkingDirectory: req.WorkingDirectory,
	}
	priority := PriorityNormal
	if req.Priority != "" {
		priority = ParsePriority(req.Priority)
	}

	t := New(req.Name, payload, priority, req.DependsOn)
	t.PinnedInstance = req.PinnedInstance
	if req.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
	return t
}

// TaskResponse is the REST/client-facing view of a Task.
type TaskResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Payload        Payload           `json:"payload"`
	Priority       string            `json:"priority"`
	State          string            `json:"state"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	PinnedInstance string            `json:"pinned_instance,omitempty"`
	Result         *Result           `json:"result,omitempty"`
	AssignedWorker string            `json:"assigned_worker,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (t *Task) ToResponse() *TaskResponse {
	return &TaskResponse{
		ID:             t.ID,
		Name:           t.Name,
		Payload:        t.Payload,
		Priority:       t.Priority.String(),
		State:          t.State.String(),
		DependsOn:      t.DependsOnList,
		PinnedInstance: t.PinnedInstance,
		Result:         t.Result,
		AssignedWorker: t.AssignedWorker,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		Metadata:       t.Metadata,
	}
}
