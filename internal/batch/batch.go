// Package batch decodes staged payloads into uniform record batches.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformed is returned when a payload is not a JSON array of flat objects
// sharing one key set. Malformed batches are structural failures and are
// never retried.
var ErrMalformed = errors.New("batch: malformed payload")

// Record is one flat mapping of field name to scalar value.
type Record map[string]any

// Batch is an ordered sequence of like-shaped records.
type Batch []Record

// Decode parses a UTF-8 JSON array of flat objects and validates that every
// record shares the first record's key set.
func Decode(raw []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformed)
	}
	for i, rec := range b {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is null", ErrMalformed, i)
		}
		for _, v := range rec {
			switch v.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("%w: record %d contains a nested value", ErrMalformed, i)
			}
		}
	}
	if err := b.validateUniform(); err != nil {
		return nil, err
	}
	return b, nil
}

// KeySet returns the sorted field names of the first record.
func (b Batch) KeySet() []string {
	if len(b) == 0 {
		return nil
	}
	keys := make([]string, 0, len(b[0]))
	for k := range b[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validateUniform checks the uniform-schema assumption: all records carry an
// identical key set.
func (b Batch) validateUniform() error {
	first := b[0]
	for i, rec := range b[1:] {
		if len(rec) != len(first) {
			return fmt.Errorf("%w: record %d has %d fields, expected %d",
				ErrMalformed, i+1, len(rec), len(first))
		}
		for k := range first {
			if _, ok := rec[k]; !ok {
				return fmt.Errorf("%w: record %d is missing field %q", ErrMalformed, i+1, k)
			}
		}
	}
	return nil
}
