package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// execute runs one admitted task to its terminal state. Any fault in
// here is converted into a FAILED transition for this task alone; the
// scheduler loop and other executors never see it.
func (q *Queue) execute(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: executor panic on task %s: %v", id, r)
			q.finalizeFailure(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	task, err := q.store.Update(id, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusRunning
		t.StartedAt = &now
		t.Progress = 0
	})
	if err != nil {
		// Cancelled between pop and admission; the record is already
		// terminal and the slot frees on return.
		return
	}
	q.hub.publish(eventForTask(task))
	if q.metrics != nil {
		q.metrics.ObserveTaskEvent("started")
	}
	q.observeDepth()
	log.Printf("queue: task %s started (kind=%s owner=%s)", task.ID, task.Kind, task.Owner)

	// Safe point before dispatch.
	if ctx.Err() != nil {
		q.finalizeCancelled(id)
		return
	}

	inputPath := task.InputRef
	if q.resolver != nil {
		inputPath, err = q.resolver.ResolveInput(ctx, task.InputRef)
		if err != nil {
			q.finalizeFailure(id, err.Error())
			return
		}
	}

	resultPath, err := q.runner.Execute(ctx, task.Kind, inputPath, task.Params, func(pct float64) {
		q.UpdateProgress(id, pct)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			q.finalizeCancelled(id)
			return
		}
		q.finalizeFailure(id, err.Error())
		return
	}

	resultRef := resultPath
	if q.resolver != nil {
		resultRef, err = q.resolver.FinalizeResult(ctx, id, resultPath)
		if err != nil {
			if ctx.Err() != nil {
				q.finalizeCancelled(id)
				return
			}
			q.finalizeFailure(id, err.Error())
			return
		}
	}

	q.finalizeSuccess(id, resultRef)
}

// UpdateProgress clamps and records progress for a non-terminal task.
func (q *Queue) UpdateProgress(id string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	task, err := q.store.Update(id, func(t *Task) {
		t.Progress = pct
	})
	if err != nil {
		return
	}
	evt := eventForTask(task)
	evt.Type = EventTaskProgress
	q.hub.publish(evt)
}

func (q *Queue) finalizeSuccess(id, resultRef string) {
	task, err := q.store.Update(id, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusCompleted
		t.Progress = 100
		t.ResultRef = resultRef
		t.CompletedAt = &now
	})
	if err != nil {
		return
	}
	log.Printf("queue: task %s completed in %s", task.ID, task.Elapsed().Round(time.Millisecond))
	q.finishTerminal(task, "completed")
}

func (q *Queue) finalizeFailure(id, message string) {
	task, err := q.store.Update(id, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusFailed
		t.ErrorMessage = message
		t.CompletedAt = &now
	})
	if err != nil {
		return
	}
	log.Printf("queue: task %s failed: %s", task.ID, message)
	q.finishTerminal(task, "failed")
}

func (q *Queue) finalizeCancelled(id string) {
	task, err := q.store.Update(id, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusCancelled
		t.CompletedAt = &now
	})
	if err != nil {
		return
	}
	log.Printf("queue: task %s cancelled", task.ID)
	q.finishTerminal(task, "cancelled")
}

// finishTerminal handles everything that follows a terminal transition:
// event publish, metrics, archive snapshot and the single notification.
func (q *Queue) finishTerminal(task Task, event string) {
	q.hub.publish(eventForTask(task))
	if q.metrics != nil {
		q.metrics.ObserveTaskEvent(event)
		if d := task.Elapsed(); d > 0 {
			q.metrics.ObserveTaskDuration(d)
		}
	}
	q.observeDepth()
	q.persistSnapshot(task)
	q.notifier.dispatch(task)
}
