// Package audit streams every reconciliation row written during a run to a
// Kafka topic so downstream consumers can track divergence over time.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

type Event struct {
	RunID         string              `json:"runId"`
	Table         string              `json:"table"`
	Date          string              `json:"date"`
	Brand         string              `json:"brand"`
	Asset         string              `json:"asset"`
	Currency      string              `json:"currency"`
	BOMarketPrice decimal.Decimal     `json:"boMarketPrice"`
	ReferenceRate decimal.Decimal     `json:"referenceRate"`
	Deviation     decimal.NullDecimal `json:"deviation"`
	Sign          models.Sign         `json:"sign"`
	ObservedAt    time.Time           `json:"observedAt"`
}

// Key is the row's natural key; events for the same row land on the same
// partition.
func (e Event) Key() string {
	return strings.Join([]string{e.Table, e.Date, e.Brand, e.Asset, e.Currency}, "|")
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func FiatEvent(runID, table string, r models.FiatRow, at time.Time) Event {
	return Event{
		RunID: runID, Table: table,
		Date: r.Date, Brand: r.Brand, Asset: r.Asset, Currency: r.Currency,
		BOMarketPrice: r.BOMarketPrice,
		ReferenceRate: r.ReferenceRate,
		Deviation:     r.Deviation.Percent,
		Sign:          r.Deviation.Sign,
		ObservedAt:    at,
	}
}

func USDTEvent(runID, table string, r models.USDTRow, at time.Time) Event {
	return Event{
		RunID: runID, Table: table,
		Date: r.Date, Brand: r.Brand, Asset: r.Asset, Currency: r.Currency,
		BOMarketPrice: r.BOMarketPrice,
		ReferenceRate: r.ReferenceRate,
		Deviation:     r.Deviation.Percent,
		Sign:          r.Deviation.Sign,
		ObservedAt:    at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}
