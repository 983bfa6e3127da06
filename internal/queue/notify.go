package queue

import (
	"context"
	"log"
	"time"

	"github.com/mvellano/enhancerd/internal/observability"
)

// dispatcher forwards one summary per terminal transition to the sink.
// Fire-and-forget: a slow or failing sink never re-opens the record,
// blocks the executor, or triggers a retry.
type dispatcher struct {
	sink    NotificationSink
	metrics *observability.Metrics
}

func (d *dispatcher) dispatch(task Task) {
	if d.sink == nil || task.NotifyTarget == "" {
		return
	}
	summary := Summary{
		TaskID:       task.ID,
		Owner:        task.Owner,
		Kind:         task.Kind,
		Status:       task.Status,
		ResultRef:    task.ResultRef,
		ErrorMessage: task.ErrorMessage,
		Elapsed:      task.Elapsed(),
	}
	go func(target string, summary Summary) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.sink.Notify(ctx, target, summary); err != nil {
			log.Printf("queue: notification for task %s failed: %v", summary.TaskID, err)
			if d.metrics != nil {
				d.metrics.ObserveNotifyError()
			}
		}
	}(task.NotifyTarget, summary)
}
