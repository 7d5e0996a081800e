package queryapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crestdata/ingest-pipeline/internal/db"
)

// Repository reads and updates customer/order rows. Connections are opened
// per call through the connector so credentials stay current.
type Repository struct {
	conn *db.Connector
	log  *slog.Logger
}

func NewRepository(conn *db.Connector) *Repository {
	return &Repository{
		conn: conn,
		log:  slog.With("component", "query_repository"),
	}
}

// GetCustomer fetches one customer row by id.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	conn, err := r.conn.Connect(ctx)
	if err != nil {
		return Customer{}, fmt.Errorf("queryapi: connect: %w", err)
	}
	defer conn.Close(ctx)

	query := fmt.Sprintf(
		"SELECT customer_id, first_name, last_name, email, phone, address FROM %s.customers WHERE customer_id = $1",
		r.conn.Schema())

	var c Customer
	err = conn.QueryRow(ctx, query, id).Scan(
		&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	if err != nil {
		return Customer{}, fmt.Errorf("queryapi: fetch customer %d: %w", id, err)
	}
	return c, nil
}

// GetOrder fetches one order row by id. The stored NUMERIC amount is scanned
// to float64 and the DATE column rendered ISO-8601 so the row survives JSON
// encoding.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	conn, err := r.conn.Connect(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("queryapi: connect: %w", err)
	}
	defer conn.Close(ctx)

	query := fmt.Sprintf(
		"SELECT order_id, order_date, total_amount, customer_id FROM %s.orders WHERE order_id = $1",
		r.conn.Schema())

	var (
		o    Order
		date time.Time
	)
	err = conn.QueryRow(ctx, query, id).Scan(&o.OrderID, &date, &o.TotalAmount, &o.CustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("queryapi: fetch order %d: %w", id, err)
	}
	o.OrderDate = date.Format("2006-01-02")
	return o, nil
}

// UpdateCustomer applies the filtered field set to one customer row inside
// an explicit transaction. The SET clause is assembled from the fixed
// updatable column list, never from request keys. RETURNING customer_id
// reports whether the row existed; no row rolls back and returns ErrNotFound.
func (r *Repository) UpdateCustomer(ctx context.Context, id int64, fields map[string]string) error {
	if len(fields) == 0 {
		return ErrNoUpdatableFields
	}

	var (
		set  []string
		args []any
	)
	for _, col := range updatableColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s.customers SET %s WHERE customer_id = $%d RETURNING customer_id",
		r.conn.Schema(), strings.Join(set, ", "), len(args))

	conn, err := r.conn.Connect(ctx)
	if err != nil {
		return fmt.Errorf("queryapi: connect: %w", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("queryapi: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var returned int64
	err = tx.QueryRow(ctx, query, args...).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("queryapi: update customer %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("queryapi: commit: %w", err)
	}
	r.log.Info("customer updated", "customer_id", returned, "fields", len(fields))
	return nil
}
