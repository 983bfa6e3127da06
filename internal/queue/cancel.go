package queue

// Cancel cooperatively cancels one task. A PENDING task is removed from
// the admission list and marked CANCELLED immediately; a RUNNING task
// has its context cancelled and reaches CANCELLED once the executor
// observes the signal at a safe point (the external process, if any, is
// killed through the context). Terminal tasks return false.
func (q *Queue) Cancel(id string) bool {
	if task, ok := q.store.cancelPending(id); ok {
		q.finishTerminal(task, "cancelled")
		return true
	}

	task, err := q.store.Get(id)
	if err != nil || task.Terminal() {
		return false
	}
	if cancel := q.getRunningCancel(id); cancel != nil {
		cancel()
		return true
	}
	// Admitted but the executor has not registered yet; retry the
	// pending path once before giving up.
	if task, ok := q.store.cancelPending(id); ok {
		q.finishTerminal(task, "cancelled")
		return true
	}
	return false
}

// CancelAll cancels every non-terminal task of the owner and returns the
// number actually cancelled. Other owners' tasks and already-terminal
// tasks are untouched.
func (q *Queue) CancelAll(owner string) int {
	count := 0
	for _, id := range q.store.nonTerminalByOwner(owner) {
		if q.Cancel(id) {
			count++
		}
	}
	return count
}
