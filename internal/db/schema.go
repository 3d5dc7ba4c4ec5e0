package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS report_tables (
		name       TEXT PRIMARY KEY,
		header     TEXT[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS report_rows (
		table_name TEXT NOT NULL REFERENCES report_tables(name) ON DELETE CASCADE,
		row_index  INTEGER NOT NULL,
		cells      TEXT[] NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (table_name, row_index)
	)`,
}

// EnsureSchema creates the report tables if they are missing.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
