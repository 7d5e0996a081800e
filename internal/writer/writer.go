// Package writer persists record batches into their inferred target tables
// with conflict-tolerant, single-transaction semantics.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crestdata/ingest-pipeline/internal/batch"
	"github.com/crestdata/ingest-pipeline/internal/db"
	"github.com/crestdata/ingest-pipeline/internal/schema"
)

// ErrWriteFailed wraps any condition that rolled the batch back: connection
// failure, a malformed row, or a constraint violation other than the
// conflict key. The batch is never partially applied.
var ErrWriteFailed = errors.New("writer: write failed")

// Outcome reports what one write attempt did. A duplicate on the conflict
// key is counted as attempted but not written, and does not fail the batch.
type Outcome struct {
	RowsAttempted int64
	RowsWritten   int64
	Success       bool
}

// statement is the precomputed insert for one target. Table and column
// identifiers come only from the validated registry, never from input data,
// so no identifier interpolation happens at write time.
type statement struct {
	columns []string
	prefix  string // INSERT INTO <schema>.<table> (<cols>) VALUES
	suffix  string // ON CONFLICT (<key>) DO NOTHING
}

// Writer executes idempotent-by-skip batch inserts.
type Writer struct {
	connector *db.Connector
	stmts     map[string]statement
	log       *slog.Logger
}

// New prepares one statement per registered target. The mapping is closed at
// startup: a target not present here cannot be written to.
func New(connector *db.Connector, reg *schema.Registry) *Writer {
	stmts := make(map[string]statement, len(reg.Targets()))
	for _, t := range reg.Targets() {
		stmts[t.Name] = statement{
			columns: t.RequiredKeys,
			prefix: fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES ",
				connector.Schema(), t.Table, strings.Join(t.RequiredKeys, ", ")),
			suffix: fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", t.ConflictKey),
		}
	}

	return &Writer{
		connector: connector,
		stmts:     stmts,
		log:       slog.With("component", "writer"),
	}
}

// Write inserts the whole batch in a single transaction. Either every
// attempted row is submitted and committed, or the transaction rolls back
// and the outcome reports failure.
func (w *Writer) Write(ctx context.Context, b batch.Batch, target schema.Target) (Outcome, error) {
	attempted := int64(len(b))
	failed := Outcome{RowsAttempted: attempted}

	stmt, ok := w.stmts[target.Name]
	if !ok {
		return failed, fmt.Errorf("%w: no statement for target %s", ErrWriteFailed, target.Name)
	}

	sql, args, err := stmt.build(b)
	if err != nil {
		return failed, err
	}

	conn, err := w.connector.Connect(ctx)
	if err != nil {
		return failed, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return failed, fmt.Errorf("%w: begin: %v", ErrWriteFailed, err)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		_ = tx.Rollback(ctx)
		return failed, fmt.Errorf("%w: insert into %s: %v", ErrWriteFailed, target.Table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return failed, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}

	written := tag.RowsAffected()
	w.log.Info("batch written",
		"target", target.Name,
		"table", target.Table,
		"rows_attempted", attempted,
		"rows_written", written,
		"rows_skipped", attempted-written,
	)

	return Outcome{
		RowsAttempted: attempted,
		RowsWritten:   written,
		Success:       true,
	}, nil
}

// build produces the multi-row insert and its argument list. Every record
// must carry a non-nil value for every declared column; a missing value
// fails the batch before anything is sent to the database. Batch fields
// outside the declared column set are ignored.
func (s statement) build(b batch.Batch) (string, []any, error) {
	if len(b) == 0 {
		return "", nil, fmt.Errorf("%w: empty batch", ErrWriteFailed)
	}

	var sb strings.Builder
	sb.WriteString(s.prefix)

	args := make([]any, 0, len(b)*len(s.columns))
	arg := 1
	for i, rec := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range s.columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++

			v, ok := rec[col]
			if !ok || v == nil {
				return "", nil, fmt.Errorf("%w: record %d is missing column %s", ErrWriteFailed, i, col)
			}
			args = append(args, v)
		}
		sb.WriteString(")")
	}
	sb.WriteString(s.suffix)

	return sb.String(), args, nil
}
