package queue

import (
	"log"
	"time"
)

func (q *Queue) sweeperLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.runCtx.Done():
			return
		case <-ticker.C:
			if removed := q.SweepOnce(time.Now().UTC()); removed > 0 {
				log.Printf("queue: swept %d old terminal tasks", removed)
			}
		}
	}
}

// SweepOnce evicts terminal records whose completedAt is older than the
// configured retention age relative to now. Returns the eviction count.
func (q *Queue) SweepOnce(now time.Time) int {
	return q.store.sweep(now.Add(-q.cfg.RetentionMaxAge))
}
