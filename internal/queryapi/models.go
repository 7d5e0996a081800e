// Package queryapi exposes the customer/order read and update API over the
// relational store, with field whitelisting and transport-safe conversions.
package queryapi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no row matches the requested identifier.
	ErrNotFound = errors.New("queryapi: not found")

	// ErrInvalidField marks a whitelisted field carrying a value of the
	// wrong type.
	ErrInvalidField = errors.New("queryapi: invalid field")

	// ErrNoUpdatableFields is returned when an update carries no
	// whitelisted fields after filtering.
	ErrNoUpdatableFields = errors.New("queryapi: no updatable fields")
)

// Customer mirrors one row of the customers table. Identifiers are integers
// in the store and stay integers on the wire.
type Customer struct {
	CustomerID int64  `json:"customer_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

// Order mirrors one row of the orders table. The order date is rendered
// ISO-8601 and the amount as a float before JSON encoding.
type Order struct {
	OrderID     int64   `json:"order_id"`
	OrderDate   string  `json:"order_date"`
	TotalAmount float64 `json:"total_amount"`
	CustomerID  int64   `json:"customer_id"`
}

// updatableColumns is the closed set of customer columns an update may
// touch, in the order they appear in a SET clause. The identifier list is
// fixed at compile time so request payloads never contribute SQL text.
var updatableColumns = []string{"first_name", "last_name", "email", "phone", "address"}

var updatable = func() map[string]bool {
	m := make(map[string]bool, len(updatableColumns))
	for _, c := range updatableColumns {
		m[c] = true
	}
	return m
}()

// filterUpdate drops non-whitelisted fields silently, then type-checks what
// remains. All updatable columns are text, so every surviving value must be
// a JSON string.
func filterUpdate(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range fields {
		if !updatable[k] {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidField, k)
		}
		out[k] = s
	}
	if len(out) == 0 {
		return nil, ErrNoUpdatableFields
	}
	return out, nil
}
