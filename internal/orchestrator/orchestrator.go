// Package orchestrator drives one ingestion event through the state machine:
// classify, write with bounded retry, then archive to the success or failure
// area.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestdata/ingest-pipeline/internal/archive"
	"github.com/crestdata/ingest-pipeline/internal/batch"
	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/logging"
	"github.com/crestdata/ingest-pipeline/internal/metrics"
	"github.com/crestdata/ingest-pipeline/internal/schema"
	"github.com/crestdata/ingest-pipeline/internal/writer"
)

// ErrArchiveFailed marks an event whose artifact could not be relocated
// after exhausting the archive retry budget. This is surfaced to the caller,
// never swallowed: the artifact is stranded in staging and needs an
// operator.
var ErrArchiveFailed = errors.New("orchestrator: archive relocation failed")

// Loader fetches and decodes the event's artifact into a record batch.
type Loader interface {
	Load(ctx context.Context, evt event.IngestionEvent) (batch.Batch, error)
}

// Classifier infers the target schema for a batch.
type Classifier interface {
	Classify(b batch.Batch) (schema.Target, error)
}

// BatchWriter persists a batch into its target.
type BatchWriter interface {
	Write(ctx context.Context, b batch.Batch, target schema.Target) (writer.Outcome, error)
}

// Archiver relocates the source artifact per an archive decision.
type Archiver interface {
	Relocate(ctx context.Context, evt event.IngestionEvent, decision archive.Decision) (archive.Result, error)
}

// Result is the terminal record of one event's run.
type Result struct {
	State    State
	Target   string
	Outcome  writer.Outcome
	Decision *archive.Decision
	Archive  *archive.Result
}

// Orchestrator executes the state machine with injected step
// implementations. It holds no per-event state: concurrent Runs are
// independent, sharing only the stores behind the steps.
type Orchestrator struct {
	loader     Loader
	classifier Classifier
	writer     BatchWriter
	archiver   Archiver
	retry      RetryPolicy
	log        *slog.Logger

	// sleep is context-aware and injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator and validates the transition table.
func New(loader Loader, classifier Classifier, bw BatchWriter, archiver Archiver, retry RetryPolicy) (*Orchestrator, error) {
	if err := validateTable(); err != nil {
		return nil, err
	}
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}
	return &Orchestrator{
		loader:     loader,
		classifier: classifier,
		writer:     bw,
		archiver:   archiver,
		retry:      retry,
		log:        slog.With("component", "orchestrator"),
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes one ingestion event to a terminal state. Exactly one
// archive decision is computed and consumed per event. The returned error is
// non-nil for every FAILED terminal, carrying the cause.
func (o *Orchestrator) Run(ctx context.Context, evt event.IngestionEvent) (Result, error) {
	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	log := logging.EventLogger(correlationID, evt.Bucket, evt.Key).With("event_id", evt.ID)

	if m := metrics.Get(); m != nil {
		m.EventsReceived.WithLabelValues(string(evt.Source)).Inc()
	}

	st, err := next(StateReceived, EventStart)
	if err != nil {
		return Result{State: StateFailed}, err
	}
	log.Info("processing event", "state", string(st))

	result := Result{}

	// CLASSIFYING: load the artifact and infer its target. Structural
	// errors are not transient; they go straight to the failure archive
	// without spending the retry budget.
	var (
		b      batch.Batch
		target schema.Target
		cause  error
	)

	classifyStart := time.Now()
	b, cause = o.loader.Load(ctx, evt)
	if cause == nil {
		target, cause = o.classifier.Classify(b)
	}
	observeStep("classify", classifyStart)

	if cause != nil {
		log.Warn("classification failed", "error", cause)
		if st, err = next(st, EventClassifyFailed); err != nil {
			return result, err
		}
	} else {
		result.Target = target.Name
		log.Info("batch classified", "target", target.Name, "records", len(b))
		if st, err = next(st, EventClassified); err != nil {
			return result, err
		}
	}

	// WRITING with bounded retry through RETRY_WAIT.
	if st == StateWriting {
		st, result.Outcome, cause, err = o.writeWithRetry(ctx, st, b, target, log)
		if err != nil {
			return result, err
		}
	}

	// Exactly one archive decision per event, derived from which archiving
	// state the table routed us to.
	area := archive.AreaSuccess
	if st == StateArchivingFailure {
		area = archive.AreaUnprocessed
	}
	decision := archive.NewDecision(area, evt.Key)
	result.Decision = &decision

	archResult, archErr := o.archiveWithRetry(ctx, evt, decision, log)
	if archErr != nil {
		if st, err = next(st, EventArchiveExhausted); err != nil {
			return result, err
		}
		result.State = st
		log.Error("archive relocation failed, artifact stranded in staging",
			"area", string(area), "error", archErr)
		if m := metrics.Get(); m != nil {
			m.EventsFailed.WithLabelValues("archive").Inc()
		}
		if cause != nil {
			return result, fmt.Errorf("%w: %v (after: %v)", ErrArchiveFailed, archErr, cause)
		}
		return result, fmt.Errorf("%w: %v", ErrArchiveFailed, archErr)
	}

	result.Archive = &archResult
	if st, err = next(st, EventArchiveSucceeded); err != nil {
		return result, err
	}
	result.State = st

	if st == StateDone {
		log.Info("event done",
			"target", result.Target,
			"rows_written", result.Outcome.RowsWritten,
			"archived_to", archResult.DestinationKey,
		)
		if m := metrics.Get(); m != nil {
			m.EventsDone.Inc()
		}
		return result, nil
	}

	// FAILED with the artifact safely quarantined: surface the original
	// cause so the terminal outcome stays observable.
	log.Warn("event quarantined", "archived_to", archResult.DestinationKey, "error", cause)
	if m := metrics.Get(); m != nil {
		m.EventsFailed.WithLabelValues(failureReason(cause)).Inc()
	}
	return result, cause
}

// writeWithRetry runs the WRITING / RETRY_WAIT loop. end is the state the
// table routed to (ARCHIVING_SUCCESS or ARCHIVING_FAILURE), cause the
// terminal write error when the budget was exhausted, and tableErr a
// transition or cancellation error that aborts the run.
func (o *Orchestrator) writeWithRetry(
	ctx context.Context,
	st State,
	b batch.Batch,
	target schema.Target,
	log *slog.Logger,
) (end State, outcome writer.Outcome, cause, tableErr error) {
	for attempt := 1; ; attempt++ {
		writeStart := time.Now()
		var werr error
		outcome, werr = o.writer.Write(ctx, b, target)
		observeStep("write", writeStart)

		if werr == nil {
			if m := metrics.Get(); m != nil {
				m.RowsAttempted.WithLabelValues(target.Name).Add(float64(outcome.RowsAttempted))
				m.RowsWritten.WithLabelValues(target.Name).Add(float64(outcome.RowsWritten))
			}
			st, err := next(st, EventWriteSucceeded)
			return st, outcome, nil, err
		}

		if attempt >= o.retry.MaxAttempts {
			log.Warn("write budget exhausted", "attempts", attempt, "error", werr)
			st, err := next(st, EventWriteExhausted)
			return st, outcome, werr, err
		}

		wait := o.retry.Backoff(attempt)
		log.Warn("write failed, retrying", "attempt", attempt, "wait", wait.String(), "error", werr)
		if m := metrics.Get(); m != nil {
			m.WriteRetries.Inc()
		}

		st, err := next(st, EventWriteRetry)
		if err != nil {
			return st, outcome, werr, err
		}
		if err := o.sleep(ctx, wait); err != nil {
			return st, outcome, werr, err
		}
		if st, err = next(st, EventRetryElapsed); err != nil {
			return st, outcome, werr, err
		}
	}
}

// archiveWithRetry relocates the artifact under its own retry budget, using
// the same backoff policy as the write step.
func (o *Orchestrator) archiveWithRetry(
	ctx context.Context,
	evt event.IngestionEvent,
	decision archive.Decision,
	log *slog.Logger,
) (archive.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		archStart := time.Now()
		result, err := o.archiver.Relocate(ctx, evt, decision)
		observeStep("archive", archStart)

		if err == nil {
			if result.Duplicated {
				if m := metrics.Get(); m != nil {
					m.ArchiveDuplicates.Inc()
				}
			}
			return result, nil
		}
		lastErr = err

		if attempt == o.retry.MaxAttempts {
			break
		}

		wait := o.retry.Backoff(attempt)
		log.Warn("archive failed, retrying", "attempt", attempt, "wait", wait.String(), "error", err)
		if m := metrics.Get(); m != nil {
			m.ArchiveRetries.Inc()
		}
		if err := o.sleep(ctx, wait); err != nil {
			return archive.Result{}, err
		}
	}

	return archive.Result{}, fmt.Errorf("after %d attempts: %w", o.retry.MaxAttempts, lastErr)
}

func failureReason(cause error) string {
	switch {
	case errors.Is(cause, batch.ErrMalformed):
		return "malformed_batch"
	case errors.Is(cause, schema.ErrUnknownSchema):
		return "unknown_schema"
	case errors.Is(cause, writer.ErrWriteFailed):
		return "write_failed"
	default:
		return "other"
	}
}

func observeStep(step string, start time.Time) {
	if m := metrics.Get(); m != nil {
		m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}
