package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/audit"
	"github.com/kjannette/bo-pricewatch/internal/config"
	"github.com/kjannette/bo-pricewatch/internal/db"
	"github.com/kjannette/bo-pricewatch/internal/external"
	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/notifications"
	"github.com/kjannette/bo-pricewatch/internal/portal"
	"github.com/kjannette/bo-pricewatch/internal/reconcile"
	"github.com/kjannette/bo-pricewatch/internal/repository"
	"github.com/kjannette/bo-pricewatch/internal/retry"
	"github.com/kjannette/bo-pricewatch/internal/risk"
)

// app holds the process-wide collaborators shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   repository.TableStore
	closers []func()
}

// newApp loads configuration, sets up logging and opens the table store.
// storeOverride, when set, replaces the configured STORE.
func newApp(ctx context.Context, storeOverride string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	if storeOverride != "" {
		cfg.Store = storeOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { logCloser.Close() })

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openStore(ctx context.Context) error {
	log := logging.WithComponent(a.logger, "db")
	if a.cfg.Store == "memory" {
		log.Warn("Using in-memory store; results are discarded at exit")
		a.store = repository.NewMemoryStore()
		return nil
	}

	log.Infof("Connecting to %s:%d/%s ...", a.cfg.DBHost, a.cfg.DBPort, a.cfg.DBName)
	pool, err := db.Connect(ctx, a.cfg.DSN())
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	a.onClose(func() {
		pool.Close()
		log.Info("Connection pool closed")
	})

	if err := db.TestConnection(ctx, pool, log); err != nil {
		return err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	a.store = repository.NewPGStore(pool)
	return nil
}

func (a *app) settlementTracker() *repository.SettlementTracker {
	if a.cfg.SettlementCurrency == "" {
		return nil
	}
	return repository.NewSettlementTracker(a.store, repository.SettlementOptions{
		SourceTable: a.cfg.SettlementSourceTable,
		TargetTable: a.cfg.SettlementTable,
		Currency:    a.cfg.SettlementCurrency,
		Markup:      a.cfg.SettlementMarkup,
		Location:    a.cfg.Location(),
	}, logging.WithComponent(a.logger, "settlement"))
}

func (a *app) publisher() audit.Publisher {
	if a.cfg.KafkaBroker == "" {
		return audit.Nop{}
	}
	log := logging.WithComponent(a.logger, "audit")
	pub, err := audit.NewKafkaPublisher(a.cfg.KafkaBroker, a.cfg.KafkaTopic, log)
	if err != nil {
		log.Warnf("Audit stream disabled: %v", err)
		return audit.Nop{}
	}
	a.onClose(pub.Close)
	return pub
}

func (a *app) pipeline() *reconcile.Pipeline {
	cfg := a.cfg
	retrier := retry.New(logging.WithComponent(a.logger, "retry"))
	timeout := cfg.HTTPTimeout()

	spot := external.NewBinanceSpotClient(
		cfg.BinanceURL,
		httputil.NewClient(timeout, nil),
		cfg.SpotSymbols,
		cfg.SpotRPS,
		logging.WithComponent(a.logger, "spot"),
	)
	fx := external.NewXEClient(cfg.XEAuth, cfg.XECurrencies,
		logging.WithComponent(a.logger, "fx"),
		external.WithXEURL(cfg.XEURL),
		external.WithXEHTTPClient(httputil.NewClient(timeout, nil)),
	)

	p2pLog := logging.WithComponent(a.logger, "p2p")
	capturer := external.NewBrowserCapturer(cfg.P2PHeadless, time.Duration(cfg.P2PSettleSeconds)*time.Second, p2pLog)
	p2p := external.NewP2PClient(capturer, retrier, p2pLog,
		external.WithP2PHTTPClient(httputil.NewClient(timeout, nil)),
		external.WithP2PPageURL(cfg.P2PPageURL),
		external.WithP2PMatch(cfg.P2PSearchMatch),
		external.WithP2PMaxPages(cfg.P2PMaxPages),
		external.WithP2PRate(cfg.P2PRPS),
	)

	brands := portal.NewManager(cfg.Brands, portal.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
		Merchant: cfg.Merchant,
	}, timeout, logging.WithComponent(a.logger, "portal"))

	writer := repository.NewWriter(a.store, logging.WithComponent(a.logger, "writer"))

	opts := []reconcile.Option{
		reconcile.WithPublisher(a.publisher()),
		reconcile.WithNotifier(notifications.NewSender(cfg.WebhookURL, cfg.BotName,
			logging.WithComponent(a.logger, "notify"))),
	}
	if cfg.FiatAlertPercent > 0 || cfg.USDTAlertPercent > 0 {
		opts = append(opts, reconcile.WithGuard(risk.NewGuardian(risk.Limits{
			FiatAlertPercent: decimal.NewFromFloat(cfg.FiatAlertPercent),
			USDTAlertPercent: decimal.NewFromFloat(cfg.USDTAlertPercent),
		})))
	}
	if tracker := a.settlementTracker(); tracker != nil {
		opts = append(opts, reconcile.WithOverrideSource(tracker))
	}

	return reconcile.New(spot, fx, p2p, brands, writer, retrier, reconcile.Options{
		FiatTable:         cfg.FiatTable,
		USDTTable:         cfg.USDTTable,
		Fiat:              reconcile.FiatPolicy{CapPercent: decimal.NewFromFloat(cfg.FiatDeviationCapPercent)},
		StaticOverrides:   cfg.USDTOverrideRates,
		Location:          cfg.Location(),
		CheckReachability: !cfg.SkipReachability,
	}, logging.WithComponent(a.logger, "pipeline"), opts...)
}
