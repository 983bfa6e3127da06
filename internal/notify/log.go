package notify

import (
	"context"
	"log"

	"github.com/mvellano/enhancerd/internal/queue"
)

// LogSink is the fallback used when no bot token is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, target string, summary queue.Summary) error {
	log.Printf("notify: target=%s task=%s kind=%s status=%s result=%q error=%q elapsed=%s",
		target, summary.TaskID, summary.Kind, summary.Status,
		summary.ResultRef, summary.ErrorMessage, summary.Elapsed)
	return nil
}
