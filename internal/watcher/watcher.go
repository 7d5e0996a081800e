// Package watcher polls the staging area and feeds newly landed objects to
// the orchestrator. It substitutes for push notifications on backends that
// have none (local directories, buckets without eventing).
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crestdata/ingest-pipeline/internal/config"
	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/orchestrator"
	"github.com/crestdata/ingest-pipeline/internal/store"
)

// Runner executes one ingestion event to a terminal state.
// *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, evt event.IngestionEvent) (orchestrator.Result, error)
}

// Watcher polls one staging store for batch files and dispatches each to an
// independent run. Keys stay in a process-local in-flight set while a run
// owns them; there is no cross-process dedup, the writer's conflict handling
// makes duplicate delivery safe.
type Watcher struct {
	store  store.ObjectStore
	runner Runner
	cfg    config.WatcherConfig
	bucket string
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func New(st store.ObjectStore, runner Runner, cfg config.WatcherConfig, bucket string) *Watcher {
	return &Watcher{
		store:    st,
		runner:   runner,
		cfg:      cfg,
		bucket:   bucket,
		log:      slog.With("component", "watcher"),
		inflight: make(map[string]bool),
	}
}

// Run polls until the context is cancelled, then waits for dispatched runs
// to finish.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watcher started",
		"prefix", w.cfg.KeyPrefix,
		"interval", w.cfg.PollInterval.String(),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-ctx.Done():
			w.log.Info("watcher stopping, draining runs")
			w.wg.Wait()
			return ctx.Err()
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	keys, err := w.store.List(ctx, w.cfg.KeyPrefix)
	if err != nil {
		w.log.Error("staging list failed", "prefix", w.cfg.KeyPrefix, "error", err)
		return
	}

	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		if !w.claim(key) {
			continue
		}

		evt := event.New(w.bucket, key)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.release(evt.Key)

			result, err := w.runner.Run(ctx, evt)
			if err != nil {
				w.log.Warn("run finished with failure",
					"key", evt.Key, "state", string(result.State), "error", err)
				return
			}
			w.log.Info("run finished", "key", evt.Key, "state", string(result.State))
		}()
	}
}

// claim marks a key in-flight. It reports false when another run owns it.
func (w *Watcher) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[key] {
		return false
	}
	w.inflight[key] = true
	return true
}

func (w *Watcher) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, key)
}
