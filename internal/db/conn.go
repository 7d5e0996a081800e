// Package db dials PostgreSQL connections with credentials fetched from the
// secret store.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"

	"github.com/crestdata/ingest-pipeline/internal/config"
	"github.com/crestdata/ingest-pipeline/internal/secrets"
)

//go:embed schema.sql
var schemaSQL string

// Connector dials short-lived connections. Credentials go through a live
// secret-store fetch before every connect, so a rotated password takes
// effect on the next write without a restart; no connection is assumed to
// survive across invocations.
type Connector struct {
	cfg   config.DatabaseConfig
	creds secrets.Source
}

// NewConnector builds a connector for the configured database.
func NewConnector(cfg config.DatabaseConfig, creds secrets.Source) *Connector {
	return &Connector{cfg: cfg, creds: creds}
}

// Connect fetches live credentials and opens a fresh connection. The caller
// owns the connection and must close it.
func (c *Connector) Connect(ctx context.Context) (*pgx.Conn, error) {
	password, err := c.creds.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: fetch credentials: %w", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(c.cfg.User),
		url.QueryEscape(password),
		c.cfg.Host,
		c.cfg.Port,
		c.cfg.Name,
	)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return conn, nil
}

// Schema returns the configured schema namespace the tables live under.
func (c *Connector) Schema() string {
	return c.cfg.Schema
}

// InitSchema creates the schema namespace and tables if they don't exist.
func (c *Connector) InitSchema(ctx context.Context) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", c.cfg.Schema)); err != nil {
		return fmt.Errorf("db: create schema: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", c.cfg.Schema)); err != nil {
		return fmt.Errorf("db: set search path: %w", err)
	}
	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("db: execute schema: %w", err)
	}
	return nil
}
