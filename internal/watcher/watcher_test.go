package watcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/crestdata/ingest-pipeline/internal/config"
	"github.com/crestdata/ingest-pipeline/internal/event"
	"github.com/crestdata/ingest-pipeline/internal/orchestrator"
)

// listStore serves a fixed key listing; the other store methods are unused
// by the watcher.
type listStore struct {
	keys    []string
	listErr error
}

func (s *listStore) Read(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (s *listStore) Write(ctx context.Context, key string, data []byte) error {
	return nil
}
func (s *listStore) Delete(ctx context.Context, key string) error       { return nil }
func (s *listStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (s *listStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.keys, s.listErr
}
func (s *listStore) URI(key string) string { return "file:///" + key }
func (s *listStore) Close() error          { return nil }

// recordingRunner captures dispatched events; block makes runs hang until
// released so in-flight claims can be observed.
type recordingRunner struct {
	mu    sync.Mutex
	keys  []string
	block chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, evt event.IngestionEvent) (orchestrator.Result, error) {
	r.mu.Lock()
	r.keys = append(r.keys, evt.Key)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return orchestrator.Result{State: orchestrator.StateDone}, nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.keys...)
	sort.Strings(out)
	return out
}

func testConfig() config.WatcherConfig {
	return config.WatcherConfig{PollInterval: time.Hour, KeyPrefix: "in/"}
}

func TestPollDispatchesJSONKeysOnly(t *testing.T) {
	runner := &recordingRunner{}
	w := New(
		&listStore{keys: []string{"in/1.json", "in/readme.txt", "in/2.json", "in/partial.json.tmp"}},
		runner, testConfig(), "staging",
	)

	w.poll(context.Background())
	w.wg.Wait()

	got := runner.seen()
	want := []string{"in/1.json", "in/2.json"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("dispatched %v, want %v", got, want)
	}
}

func TestPollSkipsInFlightKeys(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	w := New(&listStore{keys: []string{"in/1.json"}}, runner, testConfig(), "staging")

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx) // first run still holds the key

	close(runner.block)
	w.wg.Wait()

	if got := runner.seen(); len(got) != 1 {
		t.Errorf("dispatched %d runs for one in-flight key, want 1: %v", len(got), got)
	}
}

func TestKeyReclaimedAfterRunFinishes(t *testing.T) {
	runner := &recordingRunner{}
	w := New(&listStore{keys: []string{"in/1.json"}}, runner, testConfig(), "staging")

	ctx := context.Background()
	w.poll(ctx)
	w.wg.Wait()
	w.poll(ctx) // relocation failed upstream: key shows up again
	w.wg.Wait()

	if got := runner.seen(); len(got) != 2 {
		t.Errorf("dispatched %d runs, want 2 (key released after first run)", len(got))
	}
}

func TestPollToleratesListFailure(t *testing.T) {
	runner := &recordingRunner{}
	w := New(&listStore{listErr: errors.New("bucket unavailable")}, runner, testConfig(), "staging")

	w.poll(context.Background())
	w.wg.Wait()

	if got := runner.seen(); len(got) != 0 {
		t.Errorf("dispatched %v on a failed listing, want none", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	runner := &recordingRunner{}
	w := New(&listStore{keys: []string{"in/1.json"}}, runner, testConfig(), "staging")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if got := runner.seen(); len(got) != 1 {
		t.Errorf("initial poll dispatched %d runs, want 1", len(got))
	}
}
