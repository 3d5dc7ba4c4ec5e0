package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

type Config struct {
	// Back-office brands
	Brands     []models.BrandConfig
	BrandsFile string
	Username   string
	Password   string
	Merchant   string

	// Spot
	BinanceURL  string
	SpotSymbols map[string]string // asset -> ticker symbol
	SpotRPS     float64

	// FX
	XEURL        string
	XEAuth       string
	XECurrencies []string

	// P2P
	P2PPageURL       string
	P2PSearchMatch   string
	P2PMaxPages      int
	P2PHeadless      bool
	P2PSettleSeconds int
	P2PRPS           float64

	// Storage
	Store      string // postgres or memory
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	FiatTable  string
	USDTTable  string

	// Divergence policy
	FiatDeviationCapPercent float64
	USDTOverrideRates       map[string]decimal.Decimal
	FiatAlertPercent        float64
	USDTAlertPercent        float64

	// Settlement-rate tracker
	SettlementSourceTable string
	SettlementTable       string
	SettlementCurrency    string
	SettlementMarkup      decimal.Decimal

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Notifications / audit
	WebhookURL  string
	BotName     string
	KafkaBroker string
	KafkaTopic  string

	// Timing
	Timezone           string
	RunIntervalMinutes int
	HTTPTimeoutSeconds int
	SkipReachability   bool

	// Status API (serve mode)
	APIPort         int
	APIKey          string
	CORSAllowOrigin string
}

// Load reads .env and the process environment. Brand list mismatches and
// malformed override rates are configuration errors and abort startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BrandsFile: envStr("BRANDS_FILE", ""),
		Username:   envStr("BO_USERNAME", ""),
		Password:   envStr("BO_PASSWORD", ""),
		Merchant:   envStr("BO_MERCHANT", ""),

		BinanceURL: envStr("BINANCE_URL", "https://api.binance.us"),
		SpotRPS:    envFloat("SPOT_REQUESTS_PER_SECOND", 5),

		XEURL:        envStr("XE_URL", "https://www.xe.com/api/protected/midmarket-converter/"),
		XEAuth:       envStr("XE_AUTH", ""),
		XECurrencies: upper(envList("XE_CURRENCIES", "BDT,PKR,INR,NPR")),

		P2PPageURL:       envStr("P2P_PAGE_URL", "https://p2p.binance.com/en/trade/sell/USDT?fiat=%s&payment=all-payments"),
		P2PSearchMatch:   envStr("P2P_SEARCH_MATCH", "bapi/c2c/v2/friendly/c2c/adv/search"),
		P2PMaxPages:      envInt("P2P_MAX_PAGES", 3),
		P2PHeadless:      envBool("P2P_HEADLESS", true),
		P2PSettleSeconds: envInt("P2P_SETTLE_SECONDS", 3),
		P2PRPS:           envFloat("P2P_REQUESTS_PER_SECOND", 1),

		Store:      strings.ToLower(envStr("STORE", "postgres")),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "bo_pricewatch"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		FiatTable:  envStr("FIAT_TABLE", "BTC_AND_ETH_CONVERSION"),
		USDTTable:  envStr("USDT_TABLE", "USDT_CONVERSION"),

		FiatDeviationCapPercent: envFloat("FIAT_DEVIATION_CAP_PERCENT", 0),
		FiatAlertPercent:        envFloat("FIAT_ALERT_PERCENT", 0),
		USDTAlertPercent:        envFloat("USDT_ALERT_PERCENT", 0),

		SettlementSourceTable: envStr("SETTLEMENT_SOURCE_TABLE", "BONASA_PURCHASE"),
		SettlementTable:       envStr("SETTLEMENT_TABLE", "BONASA"),
		SettlementCurrency:    strings.ToUpper(envStr("SETTLEMENT_CURRENCY", "")),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),
		LogFile:   envStr("LOG_FILE", ""),

		WebhookURL:  envStr("WEBHOOK_URL", ""),
		BotName:     envStr("BOT_NAME", "PriceWatch"),
		KafkaBroker: envStr("KAFKA_BROKER", ""),
		KafkaTopic:  envStr("KAFKA_TOPIC", "bo_price_deviation"),

		Timezone:           envStr("TIMEZONE", "UTC"),
		RunIntervalMinutes: envInt("RUN_INTERVAL_MINUTES", 60),
		HTTPTimeoutSeconds: envInt("HTTP_TIMEOUT_SECONDS", 10),
		SkipReachability:   envBool("SKIP_REACHABILITY_CHECK", false),

		APIPort:         envInt("API_PORT", 0),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", ""),
	}

	symbols, err := ParseSymbols(envStr("SPOT_SYMBOLS", "BTC:BTCUSDT,ETH:ETHUSDT,USDT:USDTUSD"))
	if err != nil {
		return nil, fmt.Errorf("SPOT_SYMBOLS: %w", err)
	}
	cfg.SpotSymbols = symbols

	overrides, err := ParseRates(envStr("USDT_OVERRIDE_RATES", ""))
	if err != nil {
		return nil, fmt.Errorf("USDT_OVERRIDE_RATES: %w", err)
	}
	cfg.USDTOverrideRates = overrides

	markup, err := decimal.NewFromString(envStr("SETTLEMENT_MARKUP", "1.01"))
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_MARKUP: %w", err)
	}
	cfg.SettlementMarkup = markup

	if cfg.BrandsFile != "" {
		cfg.Brands, err = LoadBrandsFile(cfg.BrandsFile)
	} else {
		cfg.Brands, err = BuildBrands(
			envList("BO_BRAND", ""),
			envList("BASE_URLS", ""),
			envList("BO_URLS", ""),
			envList("BO_LOGIN_URLS", ""),
			envList("BO_PORTAL_KINDS", ""),
		)
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// BuildBrands zips the ordered brand lists. All lists must have the same
// length; kinds may be empty, in which case every brand is a cashier portal.
func BuildBrands(names, baseURLs, portalURLs, loginURLs, kinds []string) ([]models.BrandConfig, error) {
	n := len(names)
	if len(baseURLs) != n || len(portalURLs) != n || len(loginURLs) != n {
		return nil, fmt.Errorf("BO_BRAND, BASE_URLS, BO_URLS and BO_LOGIN_URLS must have the same length/order (got %d, %d, %d, %d)",
			n, len(baseURLs), len(portalURLs), len(loginURLs))
	}
	if len(kinds) != 0 && len(kinds) != n {
		return nil, fmt.Errorf("BO_PORTAL_KINDS must be empty or have %d entries, got %d", n, len(kinds))
	}

	brands := make([]models.BrandConfig, n)
	for i := range names {
		kind := models.PortalCashier
		if len(kinds) > 0 {
			kind = models.PortalKind(strings.ToLower(kinds[i]))
		}
		brands[i] = models.BrandConfig{
			Name:      names[i],
			BaseURL:   strings.TrimRight(baseURLs[i], "/"),
			LoginURL:  loginURLs[i],
			PortalURL: portalURLs[i],
			Kind:      kind,
		}
	}
	return brands, nil
}

type brandsFile struct {
	Brands []models.BrandConfig `yaml:"brands"`
}

func LoadBrandsFile(path string) ([]models.BrandConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brands file: %w", err)
	}
	var f brandsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse brands file: %w", err)
	}
	for i := range f.Brands {
		b := &f.Brands[i]
		if b.Name == "" || b.BaseURL == "" || b.LoginURL == "" || b.PortalURL == "" {
			return nil, fmt.Errorf("brands file: entry %d is missing name, base_url, login_url or portal_url", i+1)
		}
		b.BaseURL = strings.TrimRight(b.BaseURL, "/")
		if b.Kind == "" {
			b.Kind = models.PortalCashier
		}
	}
	return f.Brands, nil
}

// ParseRates parses "BDT:121.5,PKR:280" into a currency -> rate map.
func ParseRates(s string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, pair := range splitList(s) {
		code, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("expected CODE:RATE, got %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return out, nil
}

// ParseSymbols parses "BTC:BTCUSDT,ETH:ETHUSDT" into an asset -> symbol map.
func ParseSymbols(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		asset, sym, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("expected ASSET:SYMBOL, got %q", pair)
		}
		out[strings.ToUpper(strings.TrimSpace(asset))] = strings.ToUpper(strings.TrimSpace(sym))
	}
	return out, nil
}

func (c *Config) Validate() error {
	var errs []string

	if len(c.Brands) == 0 {
		errs = append(errs, "at least one brand is required (BO_BRAND/BASE_URLS/BO_URLS/BO_LOGIN_URLS or BRANDS_FILE)")
	}
	for _, b := range c.Brands {
		if b.Kind != models.PortalCashier && b.Kind != models.PortalMerchant {
			errs = append(errs, fmt.Sprintf("brand %s: unknown portal kind %q", b.Name, b.Kind))
		}
		if b.Kind == models.PortalMerchant && c.Merchant == "" {
			errs = append(errs, fmt.Sprintf("brand %s: BO_MERCHANT is required for merchant portals", b.Name))
		}
	}
	if c.Username == "" || c.Password == "" {
		errs = append(errs, "BO_USERNAME and BO_PASSWORD are required")
	}
	if len(c.XECurrencies) == 0 {
		errs = append(errs, "XE_CURRENCIES must list at least one currency")
	}
	for _, code := range c.XECurrencies {
		if money.GetCurrency(code) == nil {
			errs = append(errs, fmt.Sprintf("XE_CURRENCIES: unknown currency code %q", code))
		}
	}
	for code := range c.USDTOverrideRates {
		if money.GetCurrency(code) == nil {
			errs = append(errs, fmt.Sprintf("USDT_OVERRIDE_RATES: unknown currency code %q", code))
		}
	}
	if c.SettlementCurrency != "" && money.GetCurrency(c.SettlementCurrency) == nil {
		errs = append(errs, fmt.Sprintf("SETTLEMENT_CURRENCY: unknown currency code %q", c.SettlementCurrency))
	}
	if _, ok := c.SpotSymbols[models.AssetUSDT]; !ok {
		errs = append(errs, "SPOT_SYMBOLS must include a USDT entry")
	}
	if c.Store != "postgres" && c.Store != "memory" {
		errs = append(errs, fmt.Sprintf("STORE must be postgres or memory, got %q", c.Store))
	}
	if c.P2PMaxPages <= 0 {
		errs = append(errs, "P2P_MAX_PAGES must be positive")
	}
	if c.FiatDeviationCapPercent < 0 {
		errs = append(errs, "FIAT_DEVIATION_CAP_PERCENT must not be negative")
	}
	if c.FiatAlertPercent < 0 || c.USDTAlertPercent < 0 {
		errs = append(errs, "FIAT_ALERT_PERCENT and USDT_ALERT_PERCENT must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("TIMEZONE: %v", err))
	}
	if c.XEAuth == "" {
		fmt.Println("[WARN] XE_AUTH not set; FX requests will be sent without credentials")
	}
	if c.WebhookURL == "" {
		fmt.Println("[WARN] WEBHOOK_URL not set; run summaries are logged only")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Back-Office Price Watch Configuration ===")
	fmt.Printf("Brands: %d\n", len(c.Brands))
	for i, b := range c.Brands {
		fmt.Printf("  [%d] %s (%s) %s\n", i+1, b.Name, b.Kind, b.BaseURL)
	}
	fmt.Printf("BO User: %s\n", c.Username)
	fmt.Println("--------------------------------------")
	fmt.Printf("Spot: %s %v\n", c.BinanceURL, c.SpotSymbols)
	fmt.Printf("FX: %s (auth %s) %v\n", c.XEURL, boolLabel(c.XEAuth != "", "configured", "not set"), c.XECurrencies)
	fmt.Printf("P2P: %d pages, headless=%v\n", c.P2PMaxPages, c.P2PHeadless)
	fmt.Println("--------------------------------------")
	fmt.Printf("Store: %s (%s / %s)\n", c.Store, c.FiatTable, c.USDTTable)
	fmt.Printf("Fiat deviation cap: %s\n", boolLabel(c.FiatDeviationCapPercent > 0,
		strconv.FormatFloat(c.FiatDeviationCapPercent, 'f', 2, 64)+"%", "disabled"))
	fmt.Printf("USDT overrides: %d static", len(c.USDTOverrideRates))
	if c.SettlementCurrency != "" {
		fmt.Printf(", settlement rate for %s", c.SettlementCurrency)
	}
	fmt.Println()
	fmt.Printf("Kafka audit: %s\n", boolLabel(c.KafkaBroker != "", c.KafkaBroker+"/"+c.KafkaTopic, "disabled"))
	fmt.Printf("Timezone: %s\n", c.Timezone)
	fmt.Printf("Status API: %s\n", boolLabel(c.APIPort > 0, ":"+strconv.Itoa(c.APIPort), "disabled"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envList(key, fallback string) []string {
	return splitList(envStr(key, fallback))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upper(in []string) []string {
	for i := range in {
		in[i] = strings.ToUpper(in[i])
	}
	return in
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
