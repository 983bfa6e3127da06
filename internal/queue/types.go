package queue

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task describes one submitted unit of work and its lifecycle state.
// All fields except status, progress, the timestamps, errorMessage and
// resultRef are immutable after creation.
type Task struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner"`
	Kind         Kind       `json:"kind"`
	InputRef     string     `json:"input_ref"`
	Params       Params     `json:"params,omitempty"`
	NotifyTarget string     `json:"notify_target,omitempty"`
	Status       Status     `json:"status"`
	Progress     float64    `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ResultRef    string     `json:"result_ref,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	if t.Params != nil {
		out.Params = make(Params, len(t.Params))
		for k, v := range t.Params {
			out.Params[k] = v
		}
	}
	return out
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Elapsed reports the running duration of a finished task.
func (t Task) Elapsed() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Totals are lifetime outcome counters; processed counts completed and
// failed tasks, matching what the executor finished (cancellations are
// tracked separately).
type Totals struct {
	Processed uint64 `json:"processed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Info is a read-only aggregation over the store.
type Info struct {
	Pending        int    `json:"pending"`
	Running        int    `json:"running"`
	CompletedToday int    `json:"completed_today"`
	Totals         Totals `json:"totals"`
	Capacity       int    `json:"capacity"`
}

// Summary is what the notification dispatcher forwards to the sink on a
// terminal transition.
type Summary struct {
	TaskID       string        `json:"task_id"`
	Owner        string        `json:"owner"`
	Kind         Kind          `json:"kind"`
	Status       Status        `json:"status"`
	ResultRef    string        `json:"result_ref,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}
