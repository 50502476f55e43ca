// Package store is the ClickHouse client the ingest buffer and backfill
// processor use: event bulk inserts, the replacement-merge task table,
// mutation issuance/polling, and the row counts progress tracking needs.
//
// Tenant data lives in one database per workspace (events, sessions, goals
// and their materialized views), which is what makes partition-scoped
// "WHERE 1=1" mutations and database-scoped KILL MUTATION safe: a
// workspace's database never holds another tenant's rows. The task table
// lives in a shared system database.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config is the subset of connection settings the store needs.
type Config struct {
	Addr []string
	// SystemDatabase holds the backfill_tasks table.
	SystemDatabase string
	// WorkspaceDBPrefix is prepended to a sanitized workspace id to form
	// that workspace's database name.
	WorkspaceDBPrefix string
	Username          string
	Password          string
}

// Store wraps a ClickHouse connection pool and implements buffer.Sink plus
// the task-table and mutation operations the backfill processor depends on.
type Store struct {
	conn     clickhouse.Conn
	systemDB string
	wsPrefix string
}

// Open dials ClickHouse per cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.SystemDatabase,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Store{conn: conn, systemDB: cfg.SystemDatabase, wsPrefix: cfg.WorkspaceDBPrefix}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// WorkspaceDatabase returns the name of the database holding one
// workspace's tables. Workspace ids are UUID-shaped; every character
// outside [a-zA-Z0-9_] is mapped to '_' so the result is always a plain
// ClickHouse identifier.
func (s *Store) WorkspaceDatabase(workspaceID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, workspaceID)
	return s.wsPrefix + sanitized
}
