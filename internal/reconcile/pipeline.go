// Package reconcile turns source prices and back-office settings into
// reconciliation rows and drives one end-to-end run.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/audit"
	"github.com/kjannette/bo-pricewatch/internal/external"
	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/portal"
	"github.com/kjannette/bo-pricewatch/internal/retry"
)

type SpotSource interface {
	Fetch(ctx context.Context) models.Result[external.SpotPrices]
}

type FXSource interface {
	Fetch(ctx context.Context) models.Result[models.FXTable]
}

type P2PSource interface {
	FetchSnapshot(ctx context.Context, fiat string) models.Result[models.P2PSnapshot]
}

// Brands authenticates each back-office and hands its settings over.
// Satisfied by *portal.Manager.
type Brands interface {
	Reachable(ctx context.Context) (string, bool)
	Run(ctx context.Context, handler portal.SettingsHandler) ([]portal.BrandOutcome, bool)
}

// Sink persists rows idempotently. Satisfied by *repository.Writer.
type Sink interface {
	Upsert(ctx context.Context, schema models.TableSchema, rows [][]string) (inserted, updated int, err error)
}

// OverrideSource supplies per-run USDT reference overrides, such as the
// daily settlement rate.
type OverrideSource interface {
	OverrideRates(ctx context.Context) (map[string]decimal.Decimal, error)
}

type Notifier interface {
	Send(msg string)
}

// Guard flags rows that need attention. Satisfied by *risk.Guardian.
type Guard interface {
	CheckFiat(r models.FiatRow) error
	CheckUSDT(r models.USDTRow) error
}

type Options struct {
	FiatTable         string
	USDTTable         string
	Fiat              FiatPolicy
	StaticOverrides   map[string]decimal.Decimal
	Location          *time.Location
	CheckReachability bool
}

type Pipeline struct {
	spot      SpotSource
	fx        FXSource
	p2p       P2PSource
	brands    Brands
	sink      Sink
	overrides OverrideSource
	publisher audit.Publisher
	notifier  Notifier
	guard     Guard
	retrier   *retry.Retrier
	opts      Options
	logger    logrus.FieldLogger
	now       func() time.Time
	newRunID  func() string
}

type Option func(*Pipeline)

func WithOverrideSource(s OverrideSource) Option {
	return func(p *Pipeline) { p.overrides = s }
}

func WithPublisher(pub audit.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithGuard(g Guard) Option {
	return func(p *Pipeline) { p.guard = g }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithRunID(fn func() string) Option {
	return func(p *Pipeline) { p.newRunID = fn }
}

func New(spot SpotSource, fx FXSource, p2p P2PSource, brands Brands, sink Sink, retrier *retry.Retrier, opts Options, logger logrus.FieldLogger, options ...Option) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	p := &Pipeline{
		spot:      spot,
		fx:        fx,
		p2p:       p2p,
		brands:    brands,
		sink:      sink,
		publisher: audit.Nop{},
		retrier:   retrier,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

type Summary struct {
	RunID     string
	Date      string
	Brands    []portal.BrandOutcome
	FiatRows  int
	USDTRows  int
	Skipped   int
	Alerts    []string
	Succeeded bool
	Err       error
}

func (s Summary) String() string {
	var b strings.Builder
	status := "OK"
	if !s.Succeeded {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Price reconciliation %s (%s, run %s): %d fiat rows, %d USDT rows",
		status, s.Date, shortID(s.RunID), s.FiatRows, s.USDTRows)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d settings skipped", s.Skipped)
	}
	for _, o := range s.Brands {
		if o.Completed() {
			fmt.Fprintf(&b, "\n  %s: %d settings", o.Brand, o.Settings)
			continue
		}
		fmt.Fprintf(&b, "\n  %s: %s", o.Brand, o.State)
		if o.Err != nil {
			fmt.Fprintf(&b, " (%s)", o.Err.Message)
		}
	}
	if len(s.Alerts) > 0 {
		fmt.Fprintf(&b, "\n%d deviation alerts:", len(s.Alerts))
		for _, a := range s.Alerts {
			fmt.Fprintf(&b, "\n  %s", a)
		}
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "\n  error: %v", s.Err)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run performs one reconciliation. The summary's Succeeded is true when
// both sources produced data and at least one brand completed.
func (p *Pipeline) Run(ctx context.Context) Summary {
	started := p.now()
	sum := Summary{
		RunID: p.newRunID(),
		Date:  started.In(p.opts.Location).Format(time.DateOnly),
	}
	log := p.logger.WithFields(logrus.Fields{"run_id": sum.RunID, "date": sum.Date})
	log.Info("Starting price reconciliation")

	sum = p.run(ctx, sum, log)

	if sum.Succeeded {
		logging.Success(log, "Reconciliation finished in %s", p.now().Sub(started).Round(time.Millisecond))
	} else {
		log.Errorf("Reconciliation failed: %v", sum.Err)
	}
	if p.notifier != nil {
		p.notifier.Send(sum.String())
	}
	return sum
}

func (p *Pipeline) run(ctx context.Context, sum Summary, log logrus.FieldLogger) Summary {
	spot, fx, err := p.fetchSources(ctx, log)
	if err != nil {
		sum.Err = err
		return sum
	}

	conv, err := Convert(spot.USDPrices(), fx)
	if err != nil {
		sum.Err = err
		return sum
	}
	log.Infof("Converted %d assets into %d currencies", len(conv), len(fx))

	if p.opts.CheckReachability {
		if _, ok := p.brands.Reachable(ctx); !ok {
			sum.Err = models.NewFailure(models.KindTransport, "no back-office reachable")
			return sum
		}
	}

	rc := &runContext{
		Pipeline:  p,
		runID:     sum.RunID,
		date:      sum.Date,
		spot:      spot,
		fx:        fx,
		conv:      conv,
		overrides: p.resolveOverrides(ctx, log),
		snapshots: map[string]*models.P2PSnapshot{},
		log:       log,
	}

	outcomes, ok := p.brands.Run(ctx, rc.handle)
	sum.Brands = outcomes
	sum.FiatRows = rc.fiatRows
	sum.USDTRows = rc.usdtRows
	sum.Skipped = rc.skipped
	sum.Alerts = rc.alerts
	sum.Succeeded = ok
	if !ok {
		sum.Err = models.NewFailure(models.KindAuth, "all brands failed")
	}
	return sum
}

// fetchSources pulls spot and FX concurrently, each under its own retry
// loop. Either one failing aborts the run.
func (p *Pipeline) fetchSources(ctx context.Context, log logrus.FieldLogger) (external.SpotPrices, models.FXTable, error) {
	var (
		wg       sync.WaitGroup
		spotRes  models.Result[external.SpotPrices]
		fxResult models.Result[models.FXTable]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		spotRes = retry.Jittered[external.SpotPrices](ctx, p.retrier, retry.DefaultSourcePolicy("spot"), p.spot.Fetch)
	}()
	go func() {
		defer wg.Done()
		fxResult = retry.Jittered[models.FXTable](ctx, p.retrier, retry.DefaultSourcePolicy("fx"), p.fx.Fetch)
	}()
	wg.Wait()

	spot, err := spotRes.Unwrap()
	if err != nil {
		log.Errorf("Spot prices unavailable: %v", err)
		return nil, nil, err
	}
	fx, err := fxResult.Unwrap()
	if err != nil {
		log.Errorf("FX rates unavailable: %v", err)
		return nil, nil, err
	}
	return spot, fx, nil
}

func (p *Pipeline) resolveOverrides(ctx context.Context, log logrus.FieldLogger) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.opts.StaticOverrides))
	for cur, rate := range p.opts.StaticOverrides {
		out[cur] = rate
	}
	if p.overrides == nil {
		return out
	}
	dynamic, err := p.overrides.OverrideRates(ctx)
	if err != nil {
		log.Warnf("Override rates unavailable, using static ones: %v", err)
		return out
	}
	for cur, rate := range dynamic {
		out[cur] = rate
	}
	return out
}

// runContext holds per-run state shared by every brand.
type runContext struct {
	*Pipeline
	runID     string
	date      string
	spot      external.SpotPrices
	fx        models.FXTable
	conv      ConversionTable
	overrides map[string]decimal.Decimal
	snapshots map[string]*models.P2PSnapshot
	log       logrus.FieldLogger

	fiatRows int
	usdtRows int
	skipped  int
	alerts   []string
}

func (rc *runContext) handle(ctx context.Context, brand models.BrandConfig, settings []models.MarketSetting) error {
	var (
		fiat []models.FiatRow
		usdt []models.USDTRow
	)
	for _, s := range settings {
		s.Brand = brand.Name
		if s.Asset == models.AssetUSDT {
			usdt = append(usdt, rc.usdtRow(ctx, s))
			continue
		}
		row, ok := rc.fiatRow(s)
		if !ok {
			rc.skipped++
			continue
		}
		fiat = append(fiat, row)
	}

	if err := rc.writeFiat(ctx, fiat); err != nil {
		return err
	}
	if err := rc.writeUSDT(ctx, usdt); err != nil {
		return err
	}
	return nil
}

func (rc *runContext) fiatRow(s models.MarketSetting) (models.FiatRow, bool) {
	ref, ok := rc.conv.Lookup(s.Asset, s.Currency)
	if !ok {
		rc.log.WithField("brand", s.Brand).Warnf("No conversion for %s/%s, skipping", s.Asset, s.Currency)
		return models.FiatRow{}, false
	}
	return models.FiatRow{
		Date:          rc.date,
		Brand:         s.Brand,
		Asset:         s.Asset,
		Currency:      s.Currency,
		USDPrice:      rc.spot[s.Asset].Price,
		BOMarketPrice: s.MarketPrice,
		ReferenceRate: ref,
		Deviation:     FiatDeviation(ref, s.MarketPrice, rc.opts.Fiat),
	}, true
}

func (rc *runContext) usdtRow(ctx context.Context, s models.MarketSetting) models.USDTRow {
	snap := rc.snapshot(ctx, s.Currency)
	ref, source := ResolveUSDTReference(s.Currency, rc.overrides, snap)
	rc.log.WithFields(logrus.Fields{"brand": s.Brand, "currency": s.Currency, "source": source}).
		Debugf("USDT reference %s", ref)

	row := models.USDTRow{
		Date:          rc.date,
		Brand:         s.Brand,
		Asset:         s.Asset,
		Currency:      s.Currency,
		BOMarketPrice: s.MarketPrice,
		ReferenceRate: ref,
		Deviation:     USDTDeviation(ref, s.MarketPrice),
	}
	if q, ok := rc.spot[models.AssetUSDT]; ok {
		row.USDTUSD = decimal.NewNullDecimal(q.Price)
	}
	if rate, ok := rc.fx[s.Currency]; ok {
		row.FXMidRate = decimal.NewNullDecimal(rate.Round(2))
	}
	if snap != nil {
		row.TopAds = snap.TopAds
	}
	return row
}

// snapshot fetches the P2P market for currency at most once per run. A
// failed fetch is cached as nil so later brands do not repeat it.
func (rc *runContext) snapshot(ctx context.Context, currency string) *models.P2PSnapshot {
	if snap, seen := rc.snapshots[currency]; seen {
		return snap
	}
	var snap *models.P2PSnapshot
	res := rc.p2p.FetchSnapshot(ctx, currency)
	if data, err := res.Unwrap(); err != nil {
		rc.log.WithField("currency", currency).Warnf("P2P data unavailable: %v", err)
	} else {
		snap = &data
	}
	rc.snapshots[currency] = snap
	return snap
}

func (rc *runContext) writeFiat(ctx context.Context, rows []models.FiatRow) error {
	if len(rows) == 0 {
		return nil
	}
	sortFiat(rows)
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.Cells()
	}
	if err := rc.write(ctx, models.FiatSchema(rc.opts.FiatTable), cells); err != nil {
		return err
	}
	rc.fiatRows += len(rows)
	at := rc.now()
	for _, r := range rows {
		rc.publish(ctx, audit.FiatEvent(rc.runID, rc.opts.FiatTable, r, at))
		if rc.guard != nil {
			rc.alert(rc.guard.CheckFiat(r))
		}
	}
	return nil
}

func (rc *runContext) writeUSDT(ctx context.Context, rows []models.USDTRow) error {
	if len(rows) == 0 {
		return nil
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.Cells()
	}
	if err := rc.write(ctx, models.USDTSchema(rc.opts.USDTTable), cells); err != nil {
		return err
	}
	rc.usdtRows += len(rows)
	at := rc.now()
	for _, r := range rows {
		rc.publish(ctx, audit.USDTEvent(rc.runID, rc.opts.USDTTable, r, at))
		if rc.guard != nil {
			rc.alert(rc.guard.CheckUSDT(r))
		}
	}
	return nil
}

func (rc *runContext) write(ctx context.Context, schema models.TableSchema, cells [][]string) error {
	inserted, updated, err := rc.sink.Upsert(ctx, schema, cells)
	if err != nil {
		return fmt.Errorf("write %s: %w", schema.Name, err)
	}
	rc.log.Infof("%s: %d inserted, %d updated", schema.Name, inserted, updated)
	return nil
}

func (rc *runContext) alert(err error) {
	if err == nil {
		return
	}
	rc.log.Warnf("Deviation alert: %v", err)
	rc.alerts = append(rc.alerts, err.Error())
}

func (rc *runContext) publish(ctx context.Context, e audit.Event) {
	if err := rc.publisher.Publish(ctx, e); err != nil {
		rc.log.Warnf("Audit publish failed for %s: %v", e.Key(), err)
	}
}

func sortFiat(rows []models.FiatRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Asset != rows[j].Asset {
			return rows[i].Asset < rows[j].Asset
		}
		return rows[i].Currency < rows[j].Currency
	})
}
