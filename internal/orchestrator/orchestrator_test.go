package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crestdata/ingest-pipeline/internal/archive"
	"github.com/crestdata/ingest-pipeline/internal/batch"
	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/schema"
	"github.com/crestdata/ingest-pipeline/internal/writer"
)

// fakeLoader serves a fixed batch or error.
type fakeLoader struct {
	batch batch.Batch
	err   error
}

func (f *fakeLoader) Load(ctx context.Context, evt event.IngestionEvent) (batch.Batch, error) {
	return f.batch, f.err
}

// fakeClassifier serves a fixed target or error.
type fakeClassifier struct {
	target schema.Target
	err    error
}

func (f *fakeClassifier) Classify(b batch.Batch) (schema.Target, error) {
	return f.target, f.err
}

// fakeWriter fails the first failures calls, then succeeds.
type fakeWriter struct {
	mu       sync.Mutex
	calls    int
	failures int
	outcome  writer.Outcome
}

func (f *fakeWriter) Write(ctx context.Context, b batch.Batch, target schema.Target) (writer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return writer.Outcome{RowsAttempted: int64(len(b))}, writer.ErrWriteFailed
	}
	return f.outcome, nil
}

// fakeArchiver records decisions and fails the first failures calls.
type fakeArchiver struct {
	mu        sync.Mutex
	calls     int
	failures  int
	decisions []archive.Decision
}

func (f *fakeArchiver) Relocate(ctx context.Context, evt event.IngestionEvent, d archive.Decision) (archive.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.decisions = append(f.decisions, d)
	if f.calls <= f.failures {
		return archive.Result{}, errors.New("archive store unavailable")
	}
	return archive.Result{DestinationKey: d.Key}, nil
}

// distinctDecisions counts unique decisions seen by the archiver; retries of
// the same decision count once.
func (f *fakeArchiver) distinctDecisions() []archive.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[archive.Decision]bool)
	var out []archive.Decision
	for _, d := range f.decisions {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func customerBatch() batch.Batch {
	return batch.Batch{{
		"customer_id": float64(1), "first_name": "A", "last_name": "B",
		"email": "a@b.com", "phone": "0", "address": "x",
	}}
}

func customerTarget() schema.Target {
	t, _ := schema.Default().Lookup("CUSTOMER")
	return t
}

// newTestOrchestrator wires fakes and captures sleeps instead of waiting.
func newTestOrchestrator(t *testing.T, l Loader, c Classifier, w BatchWriter, a Archiver) (*Orchestrator, *[]time.Duration) {
	t.Helper()
	o, err := New(l, c, w, a, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var waits []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return o, &waits
}

func TestTransitionTableValid(t *testing.T) {
	if err := validateTable(); err != nil {
		t.Fatalf("transition table invalid: %v", err)
	}
}

func TestNextRejectsUnknownEvent(t *testing.T) {
	if _, err := next(StateWriting, EventClassified); err == nil {
		t.Error("WRITING should not accept a classify event")
	}
	if _, err := next(StateDone, EventStart); err == nil {
		t.Error("terminal state should accept no events")
	}
}

func TestRunSuccessPath(t *testing.T) {
	arch := &fakeArchiver{}
	o, waits := newTestOrchestrator(t,
		&fakeLoader{batch: customerBatch()},
		&fakeClassifier{target: customerTarget()},
		&fakeWriter{outcome: writer.Outcome{RowsAttempted: 1, RowsWritten: 1, Success: true}},
		arch,
	)

	evt := event.New("staging", "in/1.json")
	result, err := o.Run(context.Background(), evt)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != StateDone {
		t.Errorf("state = %s, want DONE", result.State)
	}
	if result.Target != "CUSTOMER" {
		t.Errorf("target = %s, want CUSTOMER", result.Target)
	}
	if result.Decision == nil || result.Decision.Area != archive.AreaSuccess {
		t.Fatalf("decision = %+v, want success area", result.Decision)
	}
	if result.Decision.Key != "backup/in/1.json" {
		t.Errorf("decision key = %s, want backup/in/1.json", result.Decision.Key)
	}
	if len(*waits) != 0 {
		t.Errorf("success path should not wait, got %v", *waits)
	}
	if got := arch.distinctDecisions(); len(got) != 1 {
		t.Errorf("archiver saw %d distinct decisions, want exactly 1", len(got))
	}
}

func TestRunClassificationFailureSkipsRetry(t *testing.T) {
	w := &fakeWriter{}
	arch := &fakeArchiver{}
	o, waits := newTestOrchestrator(t,
		&fakeLoader{batch: batch.Batch{{"foo": "bar"}}},
		&fakeClassifier{err: schema.ErrUnknownSchema},
		w,
		arch,
	)

	evt := event.New("staging", "in/2.json")
	result, err := o.Run(context.Background(), evt)
	if !errors.Is(err, schema.ErrUnknownSchema) {
		t.Fatalf("err = %v, want ErrUnknownSchema", err)
	}

	if result.State != StateFailed {
		t.Errorf("state = %s, want FAILED", result.State)
	}
	if w.calls != 0 {
		t.Errorf("writer called %d times, want 0", w.calls)
	}
	if len(*waits) != 0 {
		t.Errorf("structural failures must not wait, got %v", *waits)
	}
	if result.Decision == nil || result.Decision.Area != archive.AreaUnprocessed {
		t.Fatalf("decision = %+v, want unprocessed area", result.Decision)
	}
	if result.Decision.Key != "unprocessed/in/2.json" {
		t.Errorf("decision key = %s, want unprocessed/in/2.json", result.Decision.Key)
	}
}

func TestRunMalformedBatchRoutesToUnprocessed(t *testing.T) {
	arch := &fakeArchiver{}
	o, _ := newTestOrchestrator(t,
		&fakeLoader{err: batch.ErrMalformed},
		&fakeClassifier{},
		&fakeWriter{},
		arch,
	)

	result, err := o.Run(context.Background(), event.New("staging", "in/bad.json"))
	if !errors.Is(err, batch.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if result.Decision == nil || result.Decision.Area != archive.AreaUnprocessed {
		t.Errorf("decision = %+v, want unprocessed area", result.Decision)
	}
}

func TestRunWriteRetryBudget(t *testing.T) {
	w := &fakeWriter{failures: 100} // always fails
	arch := &fakeArchiver{}
	o, waits := newTestOrchestrator(t,
		&fakeLoader{batch: customerBatch()},
		&fakeClassifier{target: customerTarget()},
		w,
		arch,
	)

	result, err := o.Run(context.Background(), event.New("staging", "in/3.json"))
	if !errors.Is(err, writer.ErrWriteFailed) {
		t.Fatalf("err = %v, want ErrWriteFailed", err)
	}

	if w.calls != 3 {
		t.Errorf("writer called %d times, want exactly 3", w.calls)
	}
	if len(*waits) != 2 {
		t.Fatalf("got %d waits, want 2: %v", len(*waits), *waits)
	}
	if (*waits)[0] != 2*time.Second || (*waits)[1] != 4*time.Second {
		t.Errorf("waits = %v, want [2s 4s]", *waits)
	}
	if result.State != StateFailed {
		t.Errorf("state = %s, want FAILED", result.State)
	}
	if result.Decision.Area != archive.AreaUnprocessed {
		t.Errorf("decision area = %s, want UNPROCESSED", result.Decision.Area)
	}
}

func TestRunWriteEventualSuccess(t *testing.T) {
	w := &fakeWriter{failures: 2, outcome: writer.Outcome{RowsAttempted: 1, RowsWritten: 1, Success: true}}
	arch := &fakeArchiver{}
	o, waits := newTestOrchestrator(t,
		&fakeLoader{batch: customerBatch()},
		&fakeClassifier{target: customerTarget()},
		w,
		arch,
	)

	result, err := o.Run(context.Background(), event.New("staging", "in/4.json"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("state = %s, want DONE", result.State)
	}
	if w.calls != 3 {
		t.Errorf("writer called %d times, want 3", w.calls)
	}
	if len(*waits) != 2 {
		t.Errorf("got %d waits, want 2", len(*waits))
	}
}

func TestRunArchiveFailureIsObservable(t *testing.T) {
	arch := &fakeArchiver{failures: 100} // archive never succeeds
	o, _ := newTestOrchestrator(t,
		&fakeLoader{batch: customerBatch()},
		&fakeClassifier{target: customerTarget()},
		&fakeWriter{outcome: writer.Outcome{RowsAttempted: 1, RowsWritten: 1, Success: true}},
		arch,
	)

	result, err := o.Run(context.Background(), event.New("staging", "in/5.json"))
	if !errors.Is(err, ErrArchiveFailed) {
		t.Fatalf("err = %v, want ErrArchiveFailed", err)
	}
	if result.State != StateFailed {
		t.Errorf("state = %s, want FAILED", result.State)
	}
	if arch.calls != 3 {
		t.Errorf("archiver called %d times, want 3", arch.calls)
	}
}

func TestRunExactlyOneArchiveDecision(t *testing.T) {
	scenarios := []struct {
		name       string
		loader     *fakeLoader
		classifier *fakeClassifier
		writer     *fakeWriter
	}{
		{
			"success path",
			&fakeLoader{batch: customerBatch()},
			&fakeClassifier{target: customerTarget()},
			&fakeWriter{outcome: writer.Outcome{Success: true}},
		},
		{
			"classification failure",
			&fakeLoader{batch: batch.Batch{{"foo": "bar"}}},
			&fakeClassifier{err: schema.ErrUnknownSchema},
			&fakeWriter{},
		},
		{
			"write exhaustion",
			&fakeLoader{batch: customerBatch()},
			&fakeClassifier{target: customerTarget()},
			&fakeWriter{failures: 100},
		},
	}

	for _, tt := range scenarios {
		t.Run(tt.name, func(t *testing.T) {
			arch := &fakeArchiver{}
			o, _ := newTestOrchestrator(t, tt.loader, tt.classifier, tt.writer, arch)

			_, _ = o.Run(context.Background(), event.New("staging", "in/x.json"))

			if got := arch.distinctDecisions(); len(got) != 1 {
				t.Errorf("archiver saw %d distinct decisions, want exactly 1: %v", len(got), got)
			}
		})
	}
}

func TestRunContextCancelledDuringWait(t *testing.T) {
	w := &fakeWriter{failures: 100}
	o, err := New(
		&fakeLoader{batch: customerBatch()},
		&fakeClassifier{target: customerTarget()},
		w,
		&fakeArchiver{},
		DefaultRetryPolicy(),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, runErr := o.Run(ctx, event.New("staging", "in/6.json"))
	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", runErr)
	}
	if w.calls != 1 {
		t.Errorf("writer called %d times before cancellation, want 1", w.calls)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, tt := range cases {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
