package queue

// Info aggregates current queue state: pending/running counts, the 24h
// completion window, lifetime totals and the concurrency capacity. Pure
// read over the store; no record is mutated and the scheduler is never
// blocked beyond the store's read lock.
func (q *Queue) Info() Info {
	return q.store.Info(q.cfg.MaxConcurrency)
}
