// Package schema provides target schema registration and structural
// classification of record batches.
package schema

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crestdata/ingest-pipeline/internal/batch"
)

// ErrUnknownSchema is returned when a batch's key set matches no registered
// target. Like malformed batches, this is structural and never retried.
var ErrUnknownSchema = errors.New("schema: batch matches no known target")

// Target describes one destination schema: the key set a batch must carry,
// the table it lands in, and the column that detects duplicate inserts.
type Target struct {
	Name         string   `yaml:"name"`
	Table        string   `yaml:"table"`
	ConflictKey  string   `yaml:"conflict_key"`
	RequiredKeys []string `yaml:"required_keys"`
}

// Matches reports whether the given key set is a superset of the target's
// required keys.
func (t Target) Matches(keys map[string]struct{}) bool {
	for _, k := range t.RequiredKeys {
		if _, ok := keys[k]; !ok {
			return false
		}
	}
	return true
}

// Registry holds the closed, ordered set of targets. Registration order is
// classification priority: the first matching target wins.
type Registry struct {
	targets []Target
}

// NewRegistry validates and builds a registry. Validation runs once at
// startup so that table and column identifiers used in SQL are known-good
// before any batch is processed.
func NewRegistry(targets ...Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, errors.New("schema: at least one target must be registered")
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.Name == "" || t.Table == "" {
			return nil, fmt.Errorf("schema: target %q must have a name and table", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("schema: duplicate target %q", t.Name)
		}
		seen[t.Name] = true

		if len(t.RequiredKeys) == 0 {
			return nil, fmt.Errorf("schema: target %q has no required keys", t.Name)
		}
		keySet := make(map[string]bool, len(t.RequiredKeys))
		for _, k := range t.RequiredKeys {
			if k == "" {
				return nil, fmt.Errorf("schema: target %q has an empty key name", t.Name)
			}
			if keySet[k] {
				return nil, fmt.Errorf("schema: target %q repeats key %q", t.Name, k)
			}
			keySet[k] = true
		}
		if !keySet[t.ConflictKey] {
			return nil, fmt.Errorf("schema: target %q conflict key %q is not a required key",
				t.Name, t.ConflictKey)
		}
	}

	// Reject ambiguous registries where one target's key set subsumes a
	// later target's: the later target would be unreachable.
	for i, hi := range targets {
		for _, lo := range targets[i+1:] {
			keys := make(map[string]struct{}, len(lo.RequiredKeys))
			for _, k := range lo.RequiredKeys {
				keys[k] = struct{}{}
			}
			if hi.Matches(keys) {
				return nil, fmt.Errorf("schema: target %q shadows %q", hi.Name, lo.Name)
			}
		}
	}

	return &Registry{targets: targets}, nil
}

// Default returns the built-in customer/order registry. Customer has
// priority over order, matching the source system's inference order.
func Default() *Registry {
	r, err := NewRegistry(
		Target{
			Name:        "CUSTOMER",
			Table:       "customers",
			ConflictKey: "customer_id",
			RequiredKeys: []string{
				"customer_id", "first_name", "last_name", "email", "phone", "address",
			},
		},
		Target{
			Name:        "ORDER",
			Table:       "orders",
			ConflictKey: "order_id",
			RequiredKeys: []string{
				"order_id", "order_date", "total_amount", "customer_id",
			},
		},
	)
	if err != nil {
		// The built-in registry is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return r
}

// LoadRegistry reads a target registry from a YAML file. File order is
// classification priority.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read registry file: %w", err)
	}

	var doc struct {
		Targets []Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse registry file: %w", err)
	}
	return NewRegistry(doc.Targets...)
}

// Targets returns the registered targets in priority order.
func (r *Registry) Targets() []Target {
	return r.targets
}

// Lookup returns the target with the given name.
func (r *Registry) Lookup(name string) (Target, bool) {
	for _, t := range r.targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Classify infers the destination target for a batch by set inclusion of the
// batch's key set against each target's required keys, in priority order.
// It is pure: no side effects, deterministic for a given batch.
func (r *Registry) Classify(b batch.Batch) (Target, error) {
	if len(b) == 0 {
		return Target{}, fmt.Errorf("%w: empty batch", batch.ErrMalformed)
	}

	keys := make(map[string]struct{}, len(b[0]))
	for k := range b[0] {
		keys[k] = struct{}{}
	}

	for _, t := range r.targets {
		if t.Matches(keys) {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("%w: keys %v", ErrUnknownSchema, b.KeySet())
}
