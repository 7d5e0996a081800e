package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crestdata/ingest-pipeline/internal/config"
)

// countingSource counts credential fetches and serves a fixed error so no
// connection attempt ever leaves the test.
type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Fetch(ctx context.Context) (string, error) {
	s.calls++
	return "", s.err
}

func TestConnectFetchesCredentialsEveryCall(t *testing.T) {
	src := &countingSource{err: errors.New("store unavailable")}
	c := NewConnector(config.DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "ingest", User: "postgres", Schema: "ingest",
	}, src)

	for i := 1; i <= 3; i++ {
		if _, err := c.Connect(context.Background()); err == nil {
			t.Fatalf("call %d: Connect succeeded with a failing credential source", i)
		}
		if src.calls != i {
			t.Fatalf("after %d connects the credential store was consulted %d times, want %d",
				i, src.calls, i)
		}
	}
}

func TestConnectCredentialFailureSkipsDial(t *testing.T) {
	wantErr := errors.New("store unavailable")
	c := NewConnector(config.DatabaseConfig{Host: "localhost", Port: 5432}, &countingSource{err: wantErr})

	_, err := c.Connect(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped credential error", err)
	}
	if !strings.Contains(err.Error(), "fetch credentials") {
		t.Errorf("err = %v, want a fetch-credentials failure, not a dial failure", err)
	}
}
