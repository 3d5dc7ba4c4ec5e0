package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

// SettingsHandler consumes one authenticated brand's settings.
type SettingsHandler func(ctx context.Context, brand models.BrandConfig, settings []models.MarketSetting) error

type AdapterFactory func(kind models.PortalKind, logger logrus.FieldLogger) (PortalAdapter, error)

type BrandOutcome struct {
	Brand    string
	State    State
	Settings int
	Err      *models.Failure
}

func (o BrandOutcome) Completed() bool { return o.State == StateAuthenticated && o.Err == nil }

// Manager processes brands strictly in order, one Session per brand.
type Manager struct {
	brands   []models.BrandConfig
	creds    Credentials
	timeout  time.Duration
	adapters AdapterFactory
	logger   logrus.FieldLogger
}

func NewManager(brands []models.BrandConfig, creds Credentials, timeout time.Duration, logger logrus.FieldLogger) *Manager {
	return &Manager{
		brands:   brands,
		creds:    creds,
		timeout:  timeout,
		adapters: AdapterFor,
		logger:   logger,
	}
}

// WithAdapters overrides portal adapter selection.
func (m *Manager) WithAdapters(f AdapterFactory) *Manager {
	m.adapters = f
	return m
}

// Reachable probes each brand's login page and returns the first one that
// answers with a 2xx. Back-offices sit behind a VPN, so no answer at all
// usually means the tunnel is down.
func (m *Manager) Reachable(ctx context.Context) (string, bool) {
	client := httputil.NewClient(5*time.Second, nil)
	for _, b := range m.brands {
		log := m.logger.WithField("brand", b.Name)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.PortalURL, nil)
		if err != nil {
			log.Warnf("Bad portal URL %s: %v", b.PortalURL, err)
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Warnf("Not reachable %s: %v", b.PortalURL, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logging.Success(log, "Accessible: %s", b.PortalURL)
			return b.PortalURL, true
		}
		log.Errorf("Not accessible %s, status: %d", b.PortalURL, resp.StatusCode)
	}
	m.logger.Error("None of the back-office URLs are accessible (VPN required)")
	return "", false
}

// Run authenticates each brand and hands its settings to handler. A brand
// failure is logged and skipped. ok is true when at least one brand
// authenticated and its handler completed.
func (m *Manager) Run(ctx context.Context, handler SettingsHandler) (outcomes []BrandOutcome, ok bool) {
	for i, brand := range m.brands {
		if ctx.Err() != nil {
			m.logger.Warnf("Run cancelled before brand %s: %v", brand.Name, ctx.Err())
			break
		}
		log := m.logger.WithFields(logrus.Fields{"brand": brand.Name, "index": i + 1})
		log.Infof("Trying %s - %s", brand.Name, brand.PortalURL)

		out := m.runBrand(ctx, brand, handler, log)
		outcomes = append(outcomes, out)
		if out.Completed() {
			ok = true
		}
	}
	if !ok {
		m.logger.Error("All back-office brands failed")
	}
	return outcomes, ok
}

func (m *Manager) runBrand(ctx context.Context, brand models.BrandConfig, handler SettingsHandler, log logrus.FieldLogger) BrandOutcome {
	out := BrandOutcome{Brand: brand.Name, State: StateUnauthenticated}

	adapter, err := m.adapters(brand.Kind, log)
	if err != nil {
		out.State = StateFailed
		out.Err = models.AsFailure(err, models.KindConfig)
		log.Errorf("No portal adapter: %v", err)
		return out
	}

	sess := NewSession(brand, m.timeout, log)
	if err := sess.Authenticate(ctx, adapter, m.creds); err != nil {
		out.State = sess.State()
		out.Err = models.AsFailure(err, models.KindAuth)
		return out
	}
	out.State = sess.State()

	settings, err := adapter.FetchSettings(ctx, sess)
	if err != nil {
		out.Err = models.AsFailure(err, models.KindTransport)
		log.Errorf("Failed to fetch crypto settings: %v", err)
		return out
	}
	if settings == nil {
		out.Err = models.NewFailure(models.KindSchema, "settings response was not JSON")
		log.Warn("No settings returned, skipping brand")
		return out
	}
	out.Settings = len(settings)
	logging.Success(log, "Collected %d crypto settings", len(settings))

	if err := handler(ctx, brand, settings); err != nil {
		out.Err = models.AsFailure(err, models.KindComputation)
		log.Errorf("Reconciliation failed: %v", err)
		return out
	}
	logging.Success(log, "Differences saved")
	return out
}
