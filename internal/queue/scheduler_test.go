package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxConcurrency:  3,
		PollInterval:    10 * time.Millisecond,
		RetentionMaxAge: 7 * 24 * time.Hour,
		SweepInterval:   time.Hour,
	}
}

func TestSubmitValidation(t *testing.T) {
	q := New(testConfig(), NewStore(), &fakeRunner{}, nil, nil, nil, nil)

	cases := []struct {
		name     string
		owner    string
		kind     Kind
		inputRef string
		params   Params
		field    string
	}{
		{"missing owner", "", KindConvert, "in.avi", Params{"format": "mp4"}, "owner"},
		{"missing input", "user-1", KindConvert, "", Params{"format": "mp4"}, "input_ref"},
		{"unknown kind", "user-1", Kind("transmogrify"), "in.avi", nil, ""},
		{"missing format", "user-1", KindConvert, "in.avi", Params{}, "format"},
		{"unknown field", "user-1", KindConvert, "in.avi", Params{"format": "mp4", "bitrate": "1k"}, "bitrate"},
		{"bad crf", "user-1", KindConvert, "in.avi", Params{"format": "mp4", "crf": "90"}, "crf"},
		{"bad enhance type", "user-1", KindEnhance, "in.mp4", Params{"type": "hologram"}, "type"},
		{"bad ai target", "user-1", KindAIEnhance, "in.mp4", Params{"target": "8k"}, "target"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Submit(tc.owner, tc.kind, tc.inputRef, tc.params, "")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("ValidationError.Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}

	if len(q.ListTasks("", "")) != 0 {
		t.Fatalf("rejected submissions left task records behind")
	}
}

func TestSubmitRejectedWhenGuardTrips(t *testing.T) {
	resolver := &guardedResolver{capacityErr: errors.New("low disk space: 12 bytes free, need 524288000")}
	q := New(testConfig(), NewStore(), &fakeRunner{}, resolver, nil, nil, nil)

	_, err := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	var cerr *CapacityError
	if !errors.As(err, &cerr) {
		t.Fatalf("Submit() error = %v, want CapacityError", err)
	}
	if !strings.Contains(cerr.Error(), "low disk space") {
		t.Fatalf("CapacityError = %q, want guard reason carried", cerr.Error())
	}
	if len(q.ListTasks("", "")) != 0 {
		t.Fatalf("rejected submission left a task record behind")
	}

	resolver.capacityErr = nil
	if _, err := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, ""); err != nil {
		t.Fatalf("Submit() after guard clears error = %v", err)
	}
}

func TestTaskRunsToCompletion(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, inputPath string, _ Params, onProgress func(float64)) (string, error) {
		onProgress(50)
		return strings.TrimSuffix(inputPath, ".avi") + ".mp4", nil
	}}
	sink := &fakeSink{}
	q := New(testConfig(), NewStore(), runner, nil, sink, nil, nil)
	q.Start()
	defer q.Stop()

	task, err := q.Submit("user-1", KindConvert, "out.avi", Params{"format": "mp4"}, "chat-9")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got := waitForStatus(t, q, task.ID, StatusCompleted)
	if got.ResultRef != "out.mp4" {
		t.Fatalf("ResultRef = %q, want %q", got.ResultRef, "out.mp4")
	}
	if got.Progress != 100 {
		t.Fatalf("Progress = %v, want 100", got.Progress)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("timestamps not set: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}

	deliveries := waitForDeliveries(t, sink, 1)
	d := deliveries[0]
	if d.target != "chat-9" || d.summary.Status != StatusCompleted || d.summary.ResultRef != "out.mp4" {
		t.Fatalf("delivery = %+v, want completed summary for chat-9", d)
	}

	info := q.Info()
	if info.Totals.Succeeded != 1 || info.Totals.Processed != 1 {
		t.Fatalf("Info().Totals = %+v, want one success", info.Totals)
	}
}

func TestToolFailureIsIsolated(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, inputPath string, _ Params, _ func(float64)) (string, error) {
		if inputPath == "bad.avi" {
			return "", NewToolError("disk full")
		}
		return "ok.mp4", nil
	}}
	sink := &fakeSink{}
	q := New(testConfig(), NewStore(), runner, nil, sink, nil, nil)
	q.Start()
	defer q.Stop()

	bad, _ := q.Submit("user-1", KindConvert, "bad.avi", Params{"format": "mp4"}, "chat-1")
	good, _ := q.Submit("user-1", KindConvert, "good.avi", Params{"format": "mp4"}, "chat-1")

	gotBad := waitForStatus(t, q, bad.ID, StatusFailed)
	if gotBad.ErrorMessage != "disk full" {
		t.Fatalf("ErrorMessage = %q, want %q", gotBad.ErrorMessage, "disk full")
	}
	waitForStatus(t, q, good.ID, StatusCompleted)

	info := q.Info()
	if info.Totals.Failed != 1 || info.Totals.Succeeded != 1 {
		t.Fatalf("Info().Totals = %+v, want one failure and one success", info.Totals)
	}

	deliveries := waitForDeliveries(t, sink, 2)
	byID := map[string]Status{}
	for _, d := range deliveries {
		byID[d.summary.TaskID] = d.summary.Status
	}
	if byID[bad.ID] != StatusFailed || byID[good.ID] != StatusCompleted {
		t.Fatalf("notification statuses = %v", byID)
	}
}

func TestExecutorPanicBecomesFailure(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, _ string, _ Params, _ func(float64)) (string, error) {
		panic("codec table corrupted")
	}}
	q := New(testConfig(), NewStore(), runner, nil, nil, nil, nil)
	q.Start()
	defer q.Stop()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	got := waitForStatus(t, q, task.ID, StatusFailed)
	if !strings.Contains(got.ErrorMessage, "codec table corrupted") {
		t.Fatalf("ErrorMessage = %q, want panic text", got.ErrorMessage)
	}

	// The engine is still alive afterwards.
	ok, _ := q.Submit("user-1", KindEnhance, "in.mp4", Params{"type": "denoise"}, "")
	runner.setFn(func(_ context.Context, _ Kind, _ string, _ Params, _ func(float64)) (string, error) {
		return "out.mp4", nil
	})
	waitForStatus(t, q, ok.ID, StatusCompleted)
}

func TestConcurrencyCapHolds(t *testing.T) {
	gate := newBlockingRunner()
	cfg := testConfig()
	cfg.MaxConcurrency = 2
	q := New(cfg, NewStore(), gate, nil, nil, nil, nil)
	q.Start()
	defer q.Stop()

	t1, _ := q.Submit("user-1", KindConvert, "a.avi", Params{"format": "mp4"}, "")
	t2, _ := q.Submit("user-1", KindConvert, "b.avi", Params{"format": "mp4"}, "")
	t3, _ := q.Submit("user-1", KindConvert, "c.avi", Params{"format": "mp4"}, "")

	waitForStatus(t, q, t1.ID, StatusRunning)
	waitForStatus(t, q, t2.ID, StatusRunning)

	// The third stays queued while both slots are held.
	time.Sleep(50 * time.Millisecond)
	if got, _ := q.GetTask(t3.ID); got.Status != StatusPending {
		t.Fatalf("third task status = %q, want pending while at capacity", got.Status)
	}

	gate.finishOne("out1.mp4", nil)
	waitForStatus(t, q, t3.ID, StatusRunning)

	gate.finishOne("out2.mp4", nil)
	gate.finishOne("out3.mp4", nil)
	waitForStatus(t, q, t2.ID, StatusCompleted)
	waitForStatus(t, q, t3.ID, StatusCompleted)
}

func TestAdmissionIsFIFO(t *testing.T) {
	var mu sync.Mutex
	var started []string
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, inputPath string, _ Params, _ func(float64)) (string, error) {
		mu.Lock()
		started = append(started, inputPath)
		mu.Unlock()
		return "out.mp4", nil
	}}
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	q := New(cfg, NewStore(), runner, nil, nil, nil, nil)

	var tasks []Task
	for _, in := range []string{"a.avi", "b.avi", "c.avi", "d.avi"} {
		task, err := q.Submit("user-1", KindConvert, in, Params{"format": "mp4"}, "")
		if err != nil {
			t.Fatalf("Submit(%s) error = %v", in, err)
		}
		tasks = append(tasks, task)
	}

	q.Start()
	defer q.Stop()
	for _, task := range tasks {
		waitForStatus(t, q, task.ID, StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a.avi", "b.avi", "c.avi", "d.avi"}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("start order = %v, want %v", started, want)
		}
	}
}

func TestCancelPendingTask(t *testing.T) {
	sink := &fakeSink{}
	q := New(testConfig(), NewStore(), &fakeRunner{}, nil, sink, nil, nil)
	// Scheduler deliberately not started; the task stays PENDING.

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "chat-1")
	if !q.Cancel(task.ID) {
		t.Fatalf("Cancel() = false, want true for pending task")
	}

	got, err := q.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, StatusCancelled)
	}
	if got.StartedAt != nil {
		t.Fatalf("cancelled-before-start task has StartedAt set")
	}

	deliveries := waitForDeliveries(t, sink, 1)
	if deliveries[0].summary.Status != StatusCancelled {
		t.Fatalf("delivery status = %q, want cancelled", deliveries[0].summary.Status)
	}

	// A second cancel is a no-op on the terminal record.
	if q.Cancel(task.ID) {
		t.Fatalf("Cancel() on terminal task = true, want false")
	}
	if q.Info().Totals.Cancelled != 1 {
		t.Fatalf("Totals.Cancelled = %d, want 1", q.Info().Totals.Cancelled)
	}
}

func TestCancelRunningTask(t *testing.T) {
	gate := newBlockingRunner()
	q := New(testConfig(), NewStore(), gate, nil, nil, nil, nil)
	q.Start()
	defer q.Stop()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	waitForStatus(t, q, task.ID, StatusRunning)

	if !q.Cancel(task.ID) {
		t.Fatalf("Cancel() = false, want true for running task")
	}
	got := waitForStatus(t, q, task.ID, StatusCancelled)
	if got.StartedAt == nil {
		t.Fatalf("running-then-cancelled task lost StartedAt")
	}
}

func TestCancelAllFreesSlots(t *testing.T) {
	gate := newBlockingRunner()
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	q := New(cfg, NewStore(), gate, nil, nil, nil, nil)
	q.Start()
	defer q.Stop()

	t1, _ := q.Submit("user-1", KindConvert, "a.avi", Params{"format": "mp4"}, "")
	t2, _ := q.Submit("user-1", KindConvert, "b.avi", Params{"format": "mp4"}, "")
	waitForStatus(t, q, t1.ID, StatusRunning)

	other, _ := q.Submit("user-2", KindConvert, "c.avi", Params{"format": "mp4"}, "")

	if n := q.CancelAll("user-1"); n != 2 {
		t.Fatalf("CancelAll() = %d, want 2", n)
	}
	waitForStatus(t, q, t1.ID, StatusCancelled)
	waitForStatus(t, q, t2.ID, StatusCancelled)

	// The freed slot admits the other owner's task.
	waitForStatus(t, q, other.ID, StatusRunning)
	gate.finishOne("out.mp4", nil)
	got := waitForStatus(t, q, other.ID, StatusCompleted)
	if got.Status != StatusCompleted {
		t.Fatalf("survivor status = %q", got.Status)
	}
}

func TestProgressClampedAndPublished(t *testing.T) {
	progressReady := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, _ string, _ Params, onProgress func(float64)) (string, error) {
		onProgress(-12)
		onProgress(42)
		onProgress(250)
		close(progressReady)
		<-release
		return "out.mp4", nil
	}}
	q := New(testConfig(), NewStore(), runner, nil, nil, nil, nil)

	events, releaseSub := q.Subscribe("user-1")
	defer releaseSub()

	q.Start()
	defer q.Stop()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	<-progressReady

	got, _ := q.GetTask(task.ID)
	if got.Progress != 100 {
		t.Fatalf("Progress after clamp = %v, want 100", got.Progress)
	}
	close(release)
	waitForStatus(t, q, task.ID, StatusCompleted)

	var sawClampedLow, sawMid bool
	deadline := time.After(2 * time.Second)
	for !(sawClampedLow && sawMid) {
		select {
		case evt := <-events:
			if evt.Type != EventTaskProgress {
				continue
			}
			if evt.Progress == 0 {
				sawClampedLow = true
			}
			if evt.Progress == 42 {
				sawMid = true
			}
		case <-deadline:
			t.Fatalf("progress events missing: low=%v mid=%v", sawClampedLow, sawMid)
		}
	}
}

func TestSubscribeSeesLifecycle(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, _ string, _ Params, _ func(float64)) (string, error) {
		return "out.mp4", nil
	}}
	q := New(testConfig(), NewStore(), runner, nil, nil, nil, nil)

	events, release := q.Subscribe("user-1")
	defer release()
	q.Start()
	defer q.Stop()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	waitForStatus(t, q, task.ID, StatusCompleted)

	seen := map[EventType]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[EventTaskSubmitted] && seen[EventTaskStarted] && seen[EventTaskCompleted]) {
		select {
		case evt := <-events:
			if evt.TaskID == task.ID {
				seen[evt.Type] = true
			}
		case <-deadline:
			t.Fatalf("lifecycle events missing, saw %v", seen)
		}
	}
}

func TestStopCancelsRunningTasks(t *testing.T) {
	gate := newBlockingRunner()
	q := New(testConfig(), NewStore(), gate, nil, nil, nil, nil)
	q.Start()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	waitForStatus(t, q, task.ID, StatusRunning)

	q.Stop()

	got, err := q.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status after Stop() = %q, want %q", got.Status, StatusCancelled)
	}
}

func TestSweepOnceEvictsOldTerminal(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, _ Kind, _ string, _ Params, _ func(float64)) (string, error) {
		return "out.mp4", nil
	}}
	q := New(testConfig(), NewStore(), runner, nil, nil, nil, nil)
	q.Start()

	task, _ := q.Submit("user-1", KindConvert, "in.avi", Params{"format": "mp4"}, "")
	waitForStatus(t, q, task.ID, StatusCompleted)
	q.Stop()

	if removed := q.SweepOnce(time.Now().UTC()); removed != 0 {
		t.Fatalf("SweepOnce(now) removed %d fresh tasks", removed)
	}
	if removed := q.SweepOnce(time.Now().UTC().Add(8 * 24 * time.Hour)); removed != 1 {
		t.Fatalf("SweepOnce(+8d) removed = %d, want 1", removed)
	}
	if _, err := q.GetTask(task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask() after sweep error = %v, want ErrNotFound", err)
	}

	// Totals survive eviction.
	if q.Info().Totals.Succeeded != 1 {
		t.Fatalf("Totals.Succeeded = %d after sweep, want 1", q.Info().Totals.Succeeded)
	}
}

func waitForStatus(t *testing.T, q *Queue, id string, want Status) Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.GetTask(id)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, err := q.GetTask(id)
	t.Fatalf("task %s status = %q (err=%v), want %q", id, task.Status, err, want)
	return Task{}
}

func waitForDeliveries(t *testing.T, sink *fakeSink, n int) []delivery {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.deliveries(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deliveries = %d, want at least %d", len(sink.deliveries()), n)
	return nil
}

type fakeRunner struct {
	mu sync.Mutex
	fn func(ctx context.Context, kind Kind, inputPath string, params Params, onProgress func(float64)) (string, error)
}

func (f *fakeRunner) setFn(fn func(ctx context.Context, kind Kind, inputPath string, params Params, onProgress func(float64)) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeRunner) Execute(ctx context.Context, kind Kind, inputPath string, params Params, onProgress func(float64)) (string, error) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return inputPath, nil
	}
	return fn(ctx, kind, inputPath, params, onProgress)
}

// blockingRunner holds each execution until finishOne supplies a result,
// or until the task context is cancelled.
type blockingRunner struct {
	results chan blockResult
}

type blockResult struct {
	path string
	err  error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{results: make(chan blockResult, 16)}
}

func (b *blockingRunner) Execute(ctx context.Context, _ Kind, _ string, _ Params, _ func(float64)) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-b.results:
		return res.path, res.err
	}
}

func (b *blockingRunner) finishOne(path string, err error) {
	b.results <- blockResult{path: path, err: err}
}

// guardedResolver is a passthrough resolver with a scriptable
// capacity verdict.
type guardedResolver struct {
	capacityErr error
}

func (g *guardedResolver) ResolveInput(_ context.Context, ref string) (string, error) {
	return ref, nil
}

func (g *guardedResolver) FinalizeResult(_ context.Context, _, path string) (string, error) {
	return path, nil
}

func (g *guardedResolver) CheckCapacity() error {
	return g.capacityErr
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []delivery
}

type delivery struct {
	target  string
	summary Summary
}

func (f *fakeSink) Notify(_ context.Context, target string, summary Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, delivery{target: target, summary: summary})
	return nil
}

func (f *fakeSink) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery, len(f.delivered))
	copy(out, f.delivered)
	return out
}
