package entity

import "time"

// TaskType identifies the handler a WorkflowTask is routed to
type TaskType string

const (
	TaskCreateOrder TaskType = "CREATE_ORDER"
	TaskCreateJob   TaskType = "CREATE_JOB"
	TaskNotify      TaskType = "NOTIFY"
)

// String returns the string representation of the task type
func (t TaskType) String() string {
	return string(t)
}

// TaskState is the queue lifecycle state of a WorkflowTask
type TaskState string

const (
	TaskWaiting      TaskState = "WAITING"
	TaskLeased       TaskState = "LEASED"
	TaskCompleted    TaskState = "COMPLETED"
	TaskFailed       TaskState = "FAILED"
	TaskDeadLettered TaskState = "DEAD_LETTERED"
)

// AllTaskStates lists every state in lifecycle order
var AllTaskStates = []TaskState{TaskWaiting, TaskLeased, TaskCompleted, TaskFailed, TaskDeadLettered}

// String returns the string representation of the state
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true once the queue will no longer run the task on its own
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskDeadLettered
}

// IsRevivable returns true for terminal failure states that Requeue may reset
func (s TaskState) IsRevivable() bool {
	return s == TaskFailed || s == TaskDeadLettered
}

// TaskDescriptor describes a task to enqueue.
// OnSuccess lists follow-up tasks that are enqueued only after this task is acknowledged.
type TaskDescriptor struct {
	Type        TaskType          `json:"type"`
	DedupKey    string            `json:"dedup_key"`
	Payload     map[string]string `json:"payload,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	OnSuccess   []TaskDescriptor  `json:"on_success,omitempty"`
}

// WorkflowTask is a unit of asynchronous work held by the task queue.
// For a given DedupKey at most one task exists, so at most one can be LEASED.
type WorkflowTask struct {
	ID             string            `json:"id"`
	DedupKey       string            `json:"dedup_key"`
	Type           TaskType          `json:"type"`
	Payload        map[string]string `json:"payload,omitempty"`
	State          TaskState         `json:"state"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	NextRetryAt    time.Time         `json:"next_retry_at"`
	LeaseOwner     string            `json:"lease_owner,omitempty"`
	LeaseExpiresAt time.Time         `json:"lease_expires_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	ErrorHistory   []string          `json:"error_history,omitempty"`
	OnSuccess      []TaskDescriptor  `json:"on_success,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PayloadValue returns a payload value or an empty string
func (t *WorkflowTask) PayloadValue(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

// Clone returns a deep copy of the task
func (t *WorkflowTask) Clone() *WorkflowTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload != nil {
		c.Payload = make(map[string]string, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	c.ErrorHistory = append([]string(nil), t.ErrorHistory...)
	c.OnSuccess = append([]TaskDescriptor(nil), t.OnSuccess...)
	return &c
}
