package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

var SettlementHeader = []string{"DATE", "PURCHASE RATE", "EFFECTIVE CONVERSION RATE"}

// DefaultLookahead is how many rows after today are reported as upcoming.
const DefaultLookahead = 6

type SettlementRate struct {
	Date      string
	Purchase  decimal.NullDecimal
	Effective decimal.NullDecimal
}

func (r SettlementRate) Cells() []string {
	cells := []string{r.Date, "", ""}
	if r.Purchase.Valid {
		cells[1] = r.Purchase.Decimal.String()
	}
	if r.Effective.Valid {
		cells[2] = r.Effective.Decimal.StringFixed(2)
	}
	return cells
}

type Settlement struct {
	Today    *SettlementRate
	Upcoming []SettlementRate
}

type SettlementOptions struct {
	SourceTable string
	TargetTable string
	Currency    string
	Markup      decimal.Decimal
	Lookahead   int
	Location    *time.Location
}

// SettlementTracker derives the day's effective settlement rate from a
// purchase-rate table (date in column A as d/m/yyyy, purchase rate in B)
// and records it by date in the target table.
type SettlementTracker struct {
	store  TableStore
	writer *Writer
	opts   SettlementOptions
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewSettlementTracker(store TableStore, opts SettlementOptions, logger logrus.FieldLogger) *SettlementTracker {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	return &SettlementTracker{
		store:  store,
		writer: NewWriter(store, logger),
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock fixes the tracker's notion of today.
func (t *SettlementTracker) WithClock(now func() time.Time) *SettlementTracker {
	t.now = now
	return t
}

// Read locates today's row in the source table. A missing table, a table
// with no rows, or no row for today yield an empty Settlement.
func (t *SettlementTracker) Read(ctx context.Context) (Settlement, error) {
	log := t.logger.WithField("table", t.opts.SourceTable)
	rows, err := t.store.ReadAll(ctx, t.opts.SourceTable)
	if err != nil {
		return Settlement{}, fmt.Errorf("read %s: %w", t.opts.SourceTable, err)
	}
	if len(rows) == 0 {
		log.Warn("No purchase rates recorded")
		return Settlement{}, nil
	}

	today := settlementDate(t.now().In(t.opts.Location))
	log.Infof("Looking for today: %s", today)

	at := -1
	for i, r := range rows {
		if len(r) > 0 && strings.TrimSpace(r[0]) == today {
			at = i
			break
		}
	}
	if at < 0 {
		log.Warn("Today's date not found")
		return Settlement{}, nil
	}

	s := Settlement{}
	if r, ok := t.rate(rows[at]); ok {
		s.Today = &r
	}
	end := min(at+1+t.opts.Lookahead, len(rows))
	for _, row := range rows[at+1 : end] {
		r, _ := t.rate(row)
		s.Upcoming = append(s.Upcoming, r)
	}
	return s, nil
}

func (t *SettlementTracker) rate(row []string) (SettlementRate, bool) {
	r := SettlementRate{}
	if len(row) > 0 {
		r.Date = strings.TrimSpace(row[0])
	}
	if len(row) < 2 || strings.TrimSpace(row[1]) == "" {
		return r, false
	}
	purchase, err := decimal.NewFromString(strings.TrimSpace(row[1]))
	if err != nil {
		t.logger.Warnf("Unparseable purchase rate %q on %s", row[1], r.Date)
		return r, true
	}
	r.Purchase = decimal.NewNullDecimal(purchase)
	r.Effective = decimal.NewNullDecimal(purchase.Mul(t.opts.Markup).Round(2))
	return r, true
}

// Track reads today's rate and upserts it into the target table.
func (t *SettlementTracker) Track(ctx context.Context) (Settlement, error) {
	s, err := t.Read(ctx)
	if err != nil {
		return s, err
	}
	if s.Today == nil {
		t.logger.Warn("No settlement rate for today, skipping save")
		return s, nil
	}

	schema := models.TableSchema{Name: t.opts.TargetTable, Header: SettlementHeader, KeyColumns: 1}
	inserted, _, err := t.writer.Upsert(ctx, schema, [][]string{s.Today.Cells()})
	if err != nil {
		return s, err
	}
	if inserted > 0 {
		logging.Success(t.logger, "Added settlement row for %s", s.Today.Date)
	} else {
		logging.Success(t.logger, "Updated settlement row for %s", s.Today.Date)
	}
	return s, nil
}

// OverrideRates reports today's effective rate as the USDT reference for
// the settlement currency.
func (t *SettlementTracker) OverrideRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	s, err := t.Track(ctx)
	if err != nil {
		return nil, err
	}
	if s.Today == nil || !s.Today.Effective.Valid {
		return map[string]decimal.Decimal{}, nil
	}
	return map[string]decimal.Decimal{t.opts.Currency: s.Today.Effective.Decimal}, nil
}

// settlementDate formats without zero padding, e.g. 5/9/2025.
func settlementDate(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", t.Day(), int(t.Month()), t.Year())
}
