// Package archive relocates processed artifacts to the success or failure
// area of the archive store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/store"
)

// Area is one of the two logical archive zones.
type Area string

const (
	AreaSuccess     Area = "SUCCESS"
	AreaUnprocessed Area = "UNPROCESSED"
)

// Key prefixes within the archive store per area.
const (
	successPrefix     = "backup/"
	unprocessedPrefix = "unprocessed/"
)

// ErrCopyFailed is returned when the artifact could not be duplicated at the
// destination. The original is left untouched in that case.
var ErrCopyFailed = errors.New("archive: copy to destination failed")

// Decision names where an artifact goes after processing. It is computed
// once per ingestion event by the orchestrator and consumed exactly once.
type Decision struct {
	Area Area
	Key  string
}

// NewDecision derives the destination key for an event's artifact.
func NewDecision(area Area, sourceKey string) Decision {
	prefix := successPrefix
	if area == AreaUnprocessed {
		prefix = unprocessedPrefix
	}
	return Decision{Area: area, Key: prefix + sourceKey}
}

// Result reports the outcome of a relocation.
type Result struct {
	DestinationKey string
	// Duplicated is set when the copy succeeded but the source delete
	// failed: the artifact then exists in both areas. Data loss is worse
	// than data duplication, so this is reported, not fatal.
	Duplicated bool
}

// Router moves artifacts between the staging and archive stores with
// copy-then-delete semantics.
type Router struct {
	src store.ObjectStore
	dst store.ObjectStore
	log *slog.Logger
}

// NewRouter creates a router from the staging area to the archive area.
func NewRouter(src, dst store.ObjectStore) *Router {
	return &Router{
		src: src,
		dst: dst,
		log: slog.With("component", "archive"),
	}
}

// Relocate copies the event's artifact to the decision's destination key,
// confirms the copy, then removes the original. If the copy fails the
// original remains untouched. If the delete fails after a successful copy
// the artifact is duplicated but never lost.
func (r *Router) Relocate(ctx context.Context, evt event.IngestionEvent, decision Decision) (Result, error) {
	data, err := r.src.Read(ctx, evt.Key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read source %s: %v", ErrCopyFailed, evt.Key, err)
	}

	if err := r.dst.Write(ctx, decision.Key, data); err != nil {
		return Result{}, fmt.Errorf("%w: write %s: %v", ErrCopyFailed, decision.Key, err)
	}

	exists, err := r.dst.Exists(ctx, decision.Key)
	if err != nil || !exists {
		return Result{}, fmt.Errorf("%w: destination %s not confirmed: %v", ErrCopyFailed, decision.Key, err)
	}

	result := Result{DestinationKey: decision.Key}

	if err := r.src.Delete(ctx, evt.Key); err != nil {
		r.log.Warn("source delete failed after copy, artifact is duplicated",
			"source_key", evt.Key,
			"destination_key", decision.Key,
			"error", err,
		)
		result.Duplicated = true
		return result, nil
	}

	r.log.Info("artifact relocated",
		"source_key", evt.Key,
		"destination_key", decision.Key,
		"area", string(decision.Area),
	)
	return result, nil
}
