package portal

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

const (
	merchantDashboardPath = "/DepositPaymentSetting"
	merchantSettingsPath  = "/manager/payment/searchAllCryptocurrencySetting"
	merchantErrorPath     = "$.ErrorMsg"
)

// MerchantPortal logs in without a page token, sending the plain password
// and a merchant code. Failures come back in "ErrorMsg".
type MerchantPortal struct {
	DashboardPath string
	SettingsPath  string
	logger        logrus.FieldLogger
}

func NewMerchantPortal(logger logrus.FieldLogger) *MerchantPortal {
	return &MerchantPortal{
		DashboardPath: merchantDashboardPath,
		SettingsPath:  merchantSettingsPath,
		logger:        logger,
	}
}

func (p *MerchantPortal) FetchToken(context.Context, *Session) (string, error) {
	return "", nil
}

func (p *MerchantPortal) SubmitLogin(ctx context.Context, s *Session, creds Credentials, _ string) error {
	form := url.Values{
		"username": {creds.Username},
		"pass":     {creds.Password},
		"merchant": {creds.Merchant},
	}
	return submitForm(ctx, s, form, merchantErrorPath)
}

func (p *MerchantPortal) LoadDashboard(ctx context.Context, s *Session) error {
	resp, err := s.do(ctx, http.MethodGet, joinURL(s.Brand.BaseURL, p.DashboardPath), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *MerchantPortal) FetchSettings(ctx context.Context, s *Session) ([]models.MarketSetting, error) {
	return readSettings(ctx, s,
		joinURL(s.Brand.BaseURL, p.SettingsPath),
		joinURL(s.Brand.BaseURL, p.DashboardPath),
		p.logger.WithField("brand", s.Brand.Name))
}
