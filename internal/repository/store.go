package repository

import (
	"context"
	"errors"
)

// ErrNoSuchRow is returned by UpdateRow for an index past the end of the table.
var ErrNoSuchRow = errors.New("no such row")

// TableStore is a tabular sink addressed by table name. Rows are indexed
// from 0 in insertion order; the header is not a row.
type TableStore interface {
	// EnsureTable creates the table with header if it does not exist. An
	// existing table keeps its header.
	EnsureTable(ctx context.Context, name string, header []string) error
	ReadAll(ctx context.Context, name string) ([][]string, error)
	Append(ctx context.Context, name string, rows [][]string) error
	UpdateRow(ctx context.Context, name string, index int, cells []string) error
}
