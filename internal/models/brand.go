package models

import "github.com/shopspring/decimal"

type PortalKind string

const (
	PortalCashier  PortalKind = "cashier"
	PortalMerchant PortalKind = "merchant"
)

type BrandConfig struct {
	Name      string     `yaml:"name" json:"name"`
	BaseURL   string     `yaml:"base_url" json:"baseUrl"`
	LoginURL  string     `yaml:"login_url" json:"loginUrl"`
	PortalURL string     `yaml:"portal_url" json:"portalUrl"`
	Kind      PortalKind `yaml:"kind" json:"kind"`
}

type MarketSetting struct {
	Brand       string          `json:"brand"`
	Asset       string          `json:"asset"`
	Currency    string          `json:"currency"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
}
