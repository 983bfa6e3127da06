package queue

import (
	"strings"
	"sync"
	"time"
)

type EventType string

const (
	EventTaskSubmitted EventType = "task_submitted"
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
)

type Event struct {
	Type         EventType `json:"type"`
	TaskID       string    `json:"task_id"`
	Owner        string    `json:"owner"`
	Kind         Kind      `json:"kind"`
	Status       Status    `json:"status"`
	Progress     float64   `json:"progress,omitempty"`
	ResultRef    string    `json:"result_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// eventHub fans task lifecycle events out to per-owner subscribers.
// Publishing never blocks the core: a saturated subscriber drops events.
type eventHub struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func newEventHub() *eventHub {
	return &eventHub{
		subscribers: make(map[string]map[int]chan Event),
	}
}

func (h *eventHub) subscribe(owner string) (<-chan Event, func()) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 64)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[owner]; !ok {
		h.subscribers[owner] = make(map[int]chan Event)
	}
	h.subscribers[owner][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[owner]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, owner)
		}
	}
}

func (h *eventHub) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers[evt.Owner] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func eventForTask(task Task) Event {
	evt := Event{
		TaskID:       task.ID,
		Owner:        task.Owner,
		Kind:         task.Kind,
		Status:       task.Status,
		Progress:     task.Progress,
		ResultRef:    task.ResultRef,
		ErrorMessage: task.ErrorMessage,
	}
	switch task.Status {
	case StatusPending:
		evt.Type = EventTaskSubmitted
	case StatusRunning:
		evt.Type = EventTaskStarted
	case StatusCompleted:
		evt.Type = EventTaskCompleted
	case StatusFailed:
		evt.Type = EventTaskFailed
	case StatusCancelled:
		evt.Type = EventTaskCancelled
	}
	return evt
}
