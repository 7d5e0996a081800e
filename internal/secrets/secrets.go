// Package secrets fetches credential material from an external secret store
// and caches it with an explicit, testable refresh policy.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gocloud.dev/runtimevar"
	_ "gocloud.dev/runtimevar/awssecretsmanager" // awssecretsmanager:// driver
	_ "gocloud.dev/runtimevar/constantvar"       // constant:// driver (tests, dev)
	_ "gocloud.dev/runtimevar/filevar"           // file:// driver
)

// Source fetches the current secret value from the backing store. Every call
// is a live fetch; callers that want caching wrap a Source in a Cache.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// VarSource reads a secret through a gocloud runtimevar URL
// (awssecretsmanager://..., file://..., constant://...).
type VarSource struct {
	url string
	log *slog.Logger
}

// NewVarSource creates a source for the given runtimevar URL.
func NewVarSource(url string) *VarSource {
	return &VarSource{
		url: url,
		log: slog.With("component", "secrets"),
	}
}

// Fetch opens the variable, takes its latest snapshot, and extracts the
// secret string. Secret payloads may be either a bare string or a JSON
// object carrying a "password" field, matching the store's conventions.
func (s *VarSource) Fetch(ctx context.Context) (string, error) {
	v, err := runtimevar.OpenVariable(ctx, s.url)
	if err != nil {
		return "", fmt.Errorf("secrets: open variable: %w", err)
	}
	defer v.Close()

	snap, err := v.Latest(ctx)
	if err != nil {
		return "", fmt.Errorf("secrets: fetch latest: %w", err)
	}

	var raw string
	switch val := snap.Value.(type) {
	case string:
		raw = val
	case []byte:
		raw = string(val)
	default:
		return "", fmt.Errorf("secrets: unexpected secret type %T", snap.Value)
	}

	s.log.Debug("secret retrieved")
	return extractPassword(raw), nil
}

// extractPassword unwraps {"password": "..."} payloads; anything else is
// returned verbatim.
func extractPassword(raw string) string {
	var doc struct {
		Password *string `json:"password"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err == nil && doc.Password != nil {
		return *doc.Password
	}
	return raw
}
