package external

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

const binanceSource = "binance"

// SpotPrices maps an asset to its USD spot quote.
type SpotPrices map[string]models.Quote

// BinanceSpotClient reads last-trade prices from the exchange ticker, one
// request per tracked symbol.
type BinanceSpotClient struct {
	client  *binance.Client
	symbols map[string]string // asset -> symbol
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewBinanceSpotClient(baseURL string, httpClient *http.Client, symbols map[string]string, rps float64, logger logrus.FieldLogger) *BinanceSpotClient {
	c := binance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		c.HTTPClient = httpClient
	}
	if rps <= 0 {
		rps = 5
	}
	return &BinanceSpotClient{
		client:  c,
		symbols: symbols,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Fetch succeeds only when every tracked symbol was priced. Any failing
// asset turns the whole call into a single failure naming each asset.
func (c *BinanceSpotClient) Fetch(ctx context.Context) models.Result[SpotPrices] {
	assets := make([]string, 0, len(c.symbols))
	for a := range c.symbols {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	prices := SpotPrices{}
	var failed []string
	kind := models.KindSchema
	for _, asset := range assets {
		symbol := c.symbols[asset]
		q, f := c.fetchOne(ctx, asset, symbol)
		if f != nil {
			failed = append(failed, fmt.Sprintf("%s (%s): %s", asset, symbol, f.Message))
			if f.Kind == models.KindTransport {
				kind = models.KindTransport
			}
			continue
		}
		prices[asset] = q
	}

	if len(failed) > 0 {
		return models.Fail[SpotPrices](kind, "spot fetch failed for %s", strings.Join(failed, "; "))
	}
	c.logger.Debugf("Spot prices: %d symbols", len(prices))
	return models.Success(prices)
}

func (c *BinanceSpotClient) fetchOne(ctx context.Context, asset, symbol string) (models.Quote, *models.Failure) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Quote{}, models.NewFailure(models.KindTransport, "rate limiter: %v", err)
	}

	res, err := c.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Quote{}, models.NewFailure(models.KindTransport, "%v", err)
	}
	for _, sp := range res {
		if sp == nil || sp.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return models.Quote{}, models.NewFailure(models.KindSchema, "invalid price %q", sp.Price)
		}
		if !price.IsPositive() {
			return models.Quote{}, models.NewFailure(models.KindSchema, "non-positive price %s", sp.Price)
		}
		return models.Quote{
			Source:     binanceSource,
			Asset:      asset,
			Fiat:       models.FiatUSD,
			Price:      price,
			ObservedAt: c.now(),
		}, nil
	}
	return models.Quote{}, models.NewFailure(models.KindSchema, "symbol missing from ticker response")
}

// USDPrices flattens the quotes to asset -> price.
func (p SpotPrices) USDPrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p))
	for asset, q := range p {
		out[asset] = q.Price
	}
	return out
}
