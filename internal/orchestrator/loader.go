package orchestrator

import (
	"context"
	"fmt"

	"github.com/crestdata/ingest-pipeline/internal/batch"
	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/store"
)

// StoreLoader reads the event's artifact from the staging area and decodes
// it into a record batch.
type StoreLoader struct {
	store store.ObjectStore
}

// NewStoreLoader wires a loader over the staging store.
func NewStoreLoader(s store.ObjectStore) *StoreLoader {
	return &StoreLoader{store: s}
}

// Load fetches the object and decodes the JSON batch. A payload that cannot
// be decoded is a structural failure; a read error means the artifact is
// unreachable and is treated the same way -- neither is worth a retry from
// the write budget.
func (l *StoreLoader) Load(ctx context.Context, evt event.IngestionEvent) (batch.Batch, error) {
	raw, err := l.store.Read(ctx, evt.Key)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", evt.Key, err)
	}
	return batch.Decode(raw)
}
