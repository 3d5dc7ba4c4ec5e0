package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

const (
	cashierDashboardPath = "/page/manager/payment/cryptocurrencySetting.jsp"
	cashierSettingsPath  = "/manager/payment/searchAllCryptocurrencySetting"
	cashierTokenSelector = "input#randomCode"
	cashierErrorPath     = "$.errors"
)

// CashierPortal is the token-based back-office: the login page embeds a
// random code, the password is sent as a SHA-1 digest and failures come
// back in an "errors" field.
type CashierPortal struct {
	DashboardPath string
	SettingsPath  string
	logger        logrus.FieldLogger
}

func NewCashierPortal(logger logrus.FieldLogger) *CashierPortal {
	return &CashierPortal{
		DashboardPath: cashierDashboardPath,
		SettingsPath:  cashierSettingsPath,
		logger:        logger,
	}
}

func (p *CashierPortal) FetchToken(ctx context.Context, s *Session) (string, error) {
	resp, err := s.do(ctx, http.MethodGet, s.Brand.PortalURL, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", models.NewFailure(models.KindSchema, "parse login page: %v", err)
	}
	val, ok := doc.Find(cashierTokenSelector).First().Attr("value")
	if !ok || strings.TrimSpace(val) == "" {
		return "", authFailure("randomCode input not found on login page")
	}
	return strings.TrimSpace(val), nil
}

func (p *CashierPortal) SubmitLogin(ctx context.Context, s *Session, creds Credentials, token string) error {
	form := url.Values{
		"username":   {creds.Username},
		"password":   {HashPassword(creds.Password)},
		"randomCode": {token},
	}
	return submitForm(ctx, s, form, cashierErrorPath)
}

func (p *CashierPortal) LoadDashboard(ctx context.Context, s *Session) error {
	resp, err := s.do(ctx, http.MethodGet, joinURL(s.Brand.BaseURL, p.DashboardPath), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *CashierPortal) FetchSettings(ctx context.Context, s *Session) ([]models.MarketSetting, error) {
	return readSettings(ctx, s,
		joinURL(s.Brand.BaseURL, p.SettingsPath),
		joinURL(s.Brand.BaseURL, p.DashboardPath),
		p.logger.WithField("brand", s.Brand.Name))
}

// submitForm posts the login form with headers derived from the brand's own
// URLs and checks errPath in the JSON reply.
func submitForm(ctx context.Context, s *Session, form url.Values, errPath string) error {
	resp, err := s.do(ctx, http.MethodPost, s.Brand.LoginURL, strings.NewReader(form.Encode()), http.Header{
		"Content-Type":     {"application/x-www-form-urlencoded; charset=UTF-8"},
		"Accept":           {"*/*"},
		"Origin":           {s.Brand.BaseURL},
		"Referer":          {s.Brand.PortalURL},
		"X-Requested-With": {"XMLHttpRequest"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readAll(resp)
	if err != nil {
		return models.NewFailure(models.KindTransport, "read login response: %v", err)
	}
	msg, err := loginError(body, errPath)
	if err != nil {
		return models.NewFailure(models.KindSchema, "login response is not a JSON object: %s", prefix(body, 200))
	}
	if msg != "" {
		return authFailure("portal rejected credentials: %s", msg)
	}
	return nil
}
