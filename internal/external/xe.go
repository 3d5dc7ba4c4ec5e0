package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

const defaultXEURL = "https://www.xe.com/api/protected/midmarket-converter/"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=external_test -destination=mock_http_client_test.go -source=xe.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// XEClient reads the USD mid-market table and keeps only allow-listed
// currencies.
type XEClient struct {
	// url is the mid-market endpoint.
	url string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header is sent with each request, including the static Authorization.
	header http.Header
	// allow is the set of currency codes to keep.
	allow  []string
	logger logrus.FieldLogger
}

type XEClientOption func(*XEClient)

func WithXEURL(url string) XEClientOption {
	return func(c *XEClient) {
		if url != "" {
			c.url = url
		}
	}
}

func WithXEHTTPClient(httpClient HTTPClient) XEClientOption {
	return func(c *XEClient) {
		c.httpClient = httpClient
	}
}

// WithXEHeader adds headers sent with each request.
func WithXEHeader(header http.Header) XEClientOption {
	return func(c *XEClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

func NewXEClient(auth string, currencies []string, logger logrus.FieldLogger, options ...XEClientOption) *XEClient {
	c := &XEClient{
		url:        defaultXEURL,
		httpClient: httputil.NewClient(0, nil),
		header:     http.Header{},
		logger:     logger,
	}
	for _, code := range currencies {
		c.allow = append(c.allow, strings.ToUpper(strings.TrimSpace(code)))
	}
	if auth != "" {
		c.header.Set("Authorization", auth)
	}
	c.header.Set("Accept", "application/json")
	c.header.Set("Referer", "https://www.xe.com/currencyconverter/convert/")
	c.header.Set("User-Agent", httputil.BrowserUserAgent)
	for _, option := range options {
		option(c)
	}
	return c
}

// Fetch returns the filtered rate table. Allow-listed codes missing from the
// response are dropped without error.
func (c *XEClient) Fetch(ctx context.Context) models.Result[models.FXTable] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.Fail[models.FXTable](models.KindConfig, "build request: %v", err)
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Fail[models.FXTable](models.KindTransport, "xe fetch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := models.KindTransport
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = models.KindAuth
		}
		return models.Fail[models.FXTable](kind, "xe returned status %d: %s", resp.StatusCode, httputil.BodyPrefix(resp, 512))
	}

	var data struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return models.Fail[models.FXTable](models.KindSchema, "xe decode: %v", err)
	}
	if data.Rates == nil {
		return models.Fail[models.FXTable](models.KindSchema, "xe response has no rates")
	}

	table := models.FXTable{}
	for _, code := range c.allow {
		raw, ok := data.Rates[code]
		if !ok {
			continue
		}
		rate, err := decimal.NewFromString(raw.String())
		if err != nil {
			return models.Fail[models.FXTable](models.KindSchema, "xe rate for %s: %v", code, err)
		}
		table[code] = rate
	}
	c.logger.Debugf("XE rates: %s", formatTable(table))
	return models.Success(table)
}

func formatTable(t models.FXTable) string {
	parts := make([]string, 0, len(t))
	for k, v := range t {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, " ")
}
