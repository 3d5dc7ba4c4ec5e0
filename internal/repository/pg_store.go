package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps report tables in two Postgres tables: report_tables holds
// each table's header and report_rows its cells.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) EnsureTable(ctx context.Context, name string, header []string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_tables (name, header) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		name, header,
	)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", name, err)
	}
	return nil
}

func (s *PGStore) ReadAll(ctx context.Context, name string) ([][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cells FROM report_rows WHERE table_name = $1 ORDER BY row_index ASC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var cells []string
		if err := rows.Scan(&cells); err != nil {
			return nil, err
		}
		out = append(out, cells)
	}
	return out, rows.Err()
}

// Append assigns consecutive row indexes under a per-table advisory lock so
// concurrent writers cannot collide.
func (s *PGStore) Append(ctx context.Context, name string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}

	var next int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(row_index) + 1, 0) FROM report_rows WHERE table_name = $1`,
		name,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next index %s: %w", name, err)
	}

	batch := &pgx.Batch{}
	for i, cells := range rows {
		batch.Queue(
			`INSERT INTO report_rows (table_name, row_index, cells, updated_at)
			 VALUES ($1, $2, $3, NOW())`,
			name, next+i, cells,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdateRow(ctx context.Context, name string, index int, cells []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_rows SET cells = $3, updated_at = NOW()
		 WHERE table_name = $1 AND row_index = $2`,
		name, index, cells,
	)
	if err != nil {
		return fmt.Errorf("update %s[%d]: %w", name, index, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s[%d]: %w", name, index, ErrNoSuchRow)
	}
	return nil
}
