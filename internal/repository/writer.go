package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

// Writer upserts rows by natural key. It is the only component that writes
// reconciliation tables.
type Writer struct {
	store  TableStore
	logger logrus.FieldLogger
}

func NewWriter(store TableStore, logger logrus.FieldLogger) *Writer {
	return &Writer{store: store, logger: logger}
}

// Upsert writes rows into schema's table. A row whose key columns match an
// existing row replaces it in place; other rows are appended. Cells are
// padded or truncated to the header width. Later rows in the same batch win
// over earlier ones with the same key.
func (w *Writer) Upsert(ctx context.Context, schema models.TableSchema, rows [][]string) (inserted, updated int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	if schema.KeyColumns <= 0 || schema.KeyColumns > len(schema.Header) {
		return 0, 0, fmt.Errorf("table %s: invalid key width %d", schema.Name, schema.KeyColumns)
	}
	if err := w.store.EnsureTable(ctx, schema.Name, schema.Header); err != nil {
		return 0, 0, err
	}
	existing, err := w.store.ReadAll(ctx, schema.Name)
	if err != nil {
		return 0, 0, err
	}

	index := make(map[string]int, len(existing))
	for i, r := range existing {
		k := naturalKey(r, schema.KeyColumns)
		if _, dup := index[k]; !dup {
			index[k] = i
		}
	}

	var (
		pending    [][]string
		pendingIdx = map[string]int{}
		log        = w.logger.WithField("table", schema.Name)
	)
	for _, r := range rows {
		cells := fitWidth(r, len(schema.Header))
		k := naturalKey(cells, schema.KeyColumns)

		if i, ok := index[k]; ok {
			if err := w.store.UpdateRow(ctx, schema.Name, i, cells); err != nil {
				return inserted, updated, err
			}
			updated++
			log.Debugf("Updated row %d for %s", i, k)
			continue
		}
		if i, ok := pendingIdx[k]; ok {
			pending[i] = cells
			continue
		}
		pendingIdx[k] = len(pending)
		pending = append(pending, cells)
	}

	if err := w.store.Append(ctx, schema.Name, pending); err != nil {
		return inserted, updated, err
	}
	inserted = len(pending)
	return inserted, updated, nil
}

func naturalKey(cells []string, n int) string {
	parts := make([]string, n)
	for i := 0; i < n && i < len(cells); i++ {
		parts[i] = strings.TrimSpace(cells[i])
	}
	return strings.Join(parts, "\x1f")
}

func fitWidth(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}
