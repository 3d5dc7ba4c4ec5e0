package portal

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/logging"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

type State string

const (
	StateUnauthenticated      State = "unauthenticated"
	StateTokenFetched         State = "token_fetched"
	StateCredentialsSubmitted State = "credentials_submitted"
	StateAuthenticated        State = "authenticated"
	StateFailed               State = "failed"
)

// Session is one brand's authenticated context for a single run. It owns a
// private cookie jar and is never shared between brands.
type Session struct {
	Brand models.BrandConfig

	client  *http.Client
	timeout time.Duration
	state   State
	logger  logrus.FieldLogger
}

func NewSession(brand models.BrandConfig, timeout time.Duration, logger logrus.FieldLogger) *Session {
	s := &Session{
		Brand:   brand,
		timeout: timeout,
		logger:  logger.WithField("brand", brand.Name),
	}
	s.Reset()
	return s
}

// Reset discards all cookies and returns to Unauthenticated.
func (s *Session) Reset() {
	s.client = httputil.NewClient(s.timeout, httputil.NewCookieJar())
	s.state = StateUnauthenticated
}

func (s *Session) State() State { return s.state }

func (s *Session) Authenticated() bool { return s.state == StateAuthenticated }

// Cookies returns the cookies the session would send to the brand's base URL.
func (s *Session) Cookies() []*http.Cookie {
	u, err := url.Parse(s.Brand.BaseURL)
	if err != nil {
		return nil
	}
	return s.client.Jar.Cookies(u)
}

// Authenticate walks the login state machine with adapter. On any failure
// the session ends in StateFailed with an empty cookie jar.
func (s *Session) Authenticate(ctx context.Context, adapter PortalAdapter, creds Credentials) error {
	s.Reset()

	token, err := adapter.FetchToken(ctx, s)
	if err != nil {
		return s.fail(err, "fetch token")
	}
	s.state = StateTokenFetched
	if token != "" {
		s.logger.Debugf("Login token: %s", token)
	}

	s.state = StateCredentialsSubmitted
	if err := adapter.SubmitLogin(ctx, s, creds, token); err != nil {
		return s.fail(err, "submit credentials")
	}
	s.state = StateAuthenticated
	logging.Success(s.logger, "Authentication successful on %s", s.Brand.PortalURL)

	if err := adapter.LoadDashboard(ctx, s); err != nil {
		return s.fail(err, "load dashboard")
	}
	s.logger.Debugf("Dashboard loaded, %d session cookies", len(s.Cookies()))
	return nil
}

func (s *Session) fail(err error, step string) error {
	f := models.AsFailure(err, models.KindAuth)
	s.logger.WithField("kind", f.Kind).Errorf("Login failed at %s: %s", step, f.Message)
	s.client.Jar = httputil.NewCookieJar()
	s.state = StateFailed
	return f
}
