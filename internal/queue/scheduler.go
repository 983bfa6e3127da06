package queue

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mvellano/enhancerd/internal/observability"
)

// ToolRunner performs the actual media operation for a task kind. The
// queue never imports a concrete tool implementation; the host wires one
// in at construction. The runner is expected to honor ctx cancellation;
// no deadline is imposed here, so an unbounded tool call runs until the
// runner itself gives up or the task is cancelled.
type ToolRunner interface {
	Execute(ctx context.Context, kind Kind, inputPath string, params Params, onProgress func(float64)) (string, error)
}

// InputResolver turns a task's input reference into a local path before
// dispatch and moves the tool's output into its final location after. A
// nil resolver passes references through untouched.
type InputResolver interface {
	ResolveInput(ctx context.Context, ref string) (string, error)
	FinalizeResult(ctx context.Context, taskID, path string) (string, error)
}

// NotificationSink delivers terminal-state summaries to the requester.
// Best-effort: delivery failures are logged, never retried.
type NotificationSink interface {
	Notify(ctx context.Context, target string, summary Summary) error
}

// CapacityGuard vetoes new submissions while a host resource (disk,
// typically) is exhausted. A resolver that implements it is consulted
// once per Submit; already-queued tasks are unaffected.
type CapacityGuard interface {
	CheckCapacity() error
}

type Config struct {
	// MaxConcurrency caps the number of RUNNING tasks. The admission
	// gate sized to this value is the sole concurrency limiter.
	MaxConcurrency int

	// PollInterval is the scheduler tick. Admission latency is bounded
	// by this interval rather than an event-driven wakeup.
	PollInterval time.Duration

	// RetentionMaxAge is how long terminal records survive before the
	// sweeper evicts them.
	RetentionMaxAge time.Duration

	// SweepInterval is the sweeper cadence.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RetentionMaxAge <= 0 {
		c.RetentionMaxAge = 7 * 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 24 * time.Hour
	}
	return c
}

// Queue is the background task engine: it owns admission scheduling,
// execution, cancellation, notification dispatch and retention over a
// single Store.
type Queue struct {
	cfg      Config
	store    *Store
	runner   ToolRunner
	resolver InputResolver
	notifier *dispatcher
	archive  Archive
	metrics  *observability.Metrics
	hub      *eventHub

	gate *semaphore.Weighted

	mu             sync.Mutex
	runningCancels map[string]context.CancelFunc

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

func New(cfg Config, store *Store, runner ToolRunner, resolver InputResolver, sink NotificationSink, archive Archive, metrics *observability.Metrics) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:            cfg,
		store:          store,
		runner:         runner,
		resolver:       resolver,
		notifier:       &dispatcher{sink: sink, metrics: metrics},
		archive:        archive,
		metrics:        metrics,
		hub:            newEventHub(),
		gate:           semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		runningCancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the scheduler and sweeper loops.
func (q *Queue) Start() {
	if q.started {
		return
	}
	q.started = true
	q.runCtx, q.runCancel = context.WithCancel(context.Background())
	q.wg.Add(2)
	go q.schedulerLoop()
	go q.sweeperLoop()
	log.Printf("queue: started (capacity=%d poll=%s retention=%s)",
		q.cfg.MaxConcurrency, q.cfg.PollInterval, q.cfg.RetentionMaxAge)
}

// Stop cancels in-flight executors and waits for the loops to drain.
// Running tasks observe the cancellation and finish as CANCELLED.
func (q *Queue) Stop() {
	if !q.started {
		return
	}
	q.runCancel()
	q.wg.Wait()
	q.started = false
	log.Printf("queue: stopped")
}

// Submit validates the kind's parameter schema, creates a PENDING record
// and returns its id. Validation failures surface synchronously; the
// task is never created.
func (q *Queue) Submit(owner string, kind Kind, inputRef string, params Params, notifyTarget string) (Task, error) {
	owner = strings.TrimSpace(owner)
	inputRef = strings.TrimSpace(inputRef)
	if owner == "" {
		return Task{}, &ValidationError{Field: "owner", Reason: "required"}
	}
	if inputRef == "" {
		return Task{}, &ValidationError{Field: "input_ref", Reason: "required"}
	}
	if err := ValidateKind(kind, params); err != nil {
		return Task{}, err
	}
	if guard, ok := q.resolver.(CapacityGuard); ok {
		if err := guard.CheckCapacity(); err != nil {
			return Task{}, &CapacityError{Reason: err.Error()}
		}
	}

	task := q.store.Create(owner, kind, inputRef, params, notifyTarget)
	q.hub.publish(eventForTask(task))
	if q.metrics != nil {
		q.metrics.ObserveTaskEvent("submitted")
	}
	q.observeDepth()
	return task, nil
}

func (q *Queue) GetTask(id string) (Task, error) {
	task, err := q.store.Get(id)
	if err == nil {
		return task, nil
	}
	if q.archive == nil {
		return Task{}, err
	}
	// Swept records may still live in the archive.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	archived, archiveErr := q.archive.GetTask(ctx, id)
	if archiveErr != nil {
		return Task{}, err
	}
	return archived, nil
}

func (q *Queue) ListTasks(owner string, status Status) []Task {
	return q.store.List(owner, status)
}

// Subscribe returns a channel of lifecycle events for the owner's tasks
// plus a release func. Saturated subscribers miss events rather than
// blocking the engine.
func (q *Queue) Subscribe(owner string) (<-chan Event, func()) {
	return q.hub.subscribe(owner)
}

func (q *Queue) schedulerLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.runCtx.Done():
			return
		case <-ticker.C:
			q.admitPending()
		}
	}
}

// admitPending promotes pending tasks in strict submission order while
// the admission gate has capacity. The gate is acquired before the pop
// so a popped task always has a slot.
func (q *Queue) admitPending() {
	for {
		if !q.gate.TryAcquire(1) {
			return
		}
		task, ok := q.store.popPending()
		if !ok {
			q.gate.Release(1)
			return
		}

		taskCtx, cancel := context.WithCancel(q.runCtx)
		q.setRunningCancel(task.ID, cancel)
		q.wg.Add(1)
		go func(id string) {
			defer q.wg.Done()
			defer q.gate.Release(1)
			defer q.clearRunningCancel(id)
			defer cancel()
			q.execute(taskCtx, id)
		}(task.ID)
	}
}

func (q *Queue) setRunningCancel(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runningCancels[id] = cancel
}

func (q *Queue) getRunningCancel(id string) context.CancelFunc {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runningCancels[id]
}

func (q *Queue) clearRunningCancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.runningCancels, id)
}

func (q *Queue) observeDepth() {
	if q.metrics == nil {
		return
	}
	info := q.store.Info(q.cfg.MaxConcurrency)
	q.metrics.ObserveQueueDepth(info.Pending, info.Running)
}

// persistSnapshot archives a terminal snapshot, best-effort and off the
// executor's critical path.
func (q *Queue) persistSnapshot(task Task) {
	if q.archive == nil {
		return
	}
	go func(snapshot Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.archive.SaveTask(ctx, snapshot); err != nil {
			log.Printf("queue: archive save failed for task %s: %v", snapshot.ID, err)
		}
	}(task)
}
