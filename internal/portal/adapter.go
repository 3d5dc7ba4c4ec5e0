// Package portal authenticates against brand back-offices and reads their
// operator-configured crypto market prices.
package portal

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

type Credentials struct {
	Username string
	Password string
	Merchant string
}

// PortalAdapter captures the handshake differences between portal flavours.
// Every method returns a *models.Failure (as error) on failure.
type PortalAdapter interface {
	// FetchToken loads the login page and extracts the one-time token. An
	// adapter whose portal has no token returns "".
	FetchToken(ctx context.Context, s *Session) (string, error)
	SubmitLogin(ctx context.Context, s *Session, creds Credentials, token string) error
	LoadDashboard(ctx context.Context, s *Session) error
	// FetchSettings returns nil settings without error when the portal
	// answers with something other than JSON.
	FetchSettings(ctx context.Context, s *Session) ([]models.MarketSetting, error)
}

// AdapterFor selects the adapter for a brand's portal kind.
func AdapterFor(kind models.PortalKind, logger logrus.FieldLogger) (PortalAdapter, error) {
	switch kind {
	case models.PortalCashier, "":
		return NewCashierPortal(logger), nil
	case models.PortalMerchant:
		return NewMerchantPortal(logger), nil
	default:
		return nil, models.NewFailure(models.KindConfig, "unknown portal kind %q", kind)
	}
}

// HashPassword returns the hex SHA-1 digest the cashier portal expects.
func HashPassword(plain string) string {
	sum := sha1.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// loginError extracts a non-empty error value at path from a JSON login
// response. It returns "" when the field is absent or empty. A response that
// is not a JSON object is an error.
func loginError(body []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}
	if _, ok := doc.(map[string]any); !ok {
		return "", fmt.Errorf("login response is %T, not an object", doc)
	}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		// unknown key
		return "", nil
	}
	if list, ok := v.([]any); ok && len(list) == 1 {
		v = list[0]
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case []any:
		if len(t) == 0 {
			return "", nil
		}
	case map[string]any:
		if len(t) == 0 {
			return "", nil
		}
	case bool:
		if !t {
			return "", nil
		}
	}
	out, _ := json.Marshal(v)
	return string(out), nil
}

func (s *Session) do(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, models.NewFailure(models.KindConfig, "build request %s: %v", url, err)
	}
	req.Header.Set("User-Agent", httputil.BrowserUserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.NewFailure(models.KindTransport, "%s %s: %v", method, url, err)
	}
	if resp.StatusCode >= 400 {
		prefix := httputil.BodyPrefix(resp, 256)
		resp.Body.Close()
		kind := models.KindTransport
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = models.KindAuth
		}
		return nil, models.NewFailure(kind, "%s %s: status %d: %s", method, url, resp.StatusCode, prefix)
	}
	return resp, nil
}

// readSettings fetches and parses the settings endpoint shared by both
// portal flavours: an object of asset -> [{currency, marketPrice}].
func readSettings(ctx context.Context, s *Session, url, referer string, logger logrus.FieldLogger) ([]models.MarketSetting, error) {
	resp, err := s.do(ctx, http.MethodGet, url, nil, http.Header{
		"Accept":           {"application/json, text/javascript, */*; q=0.01"},
		"Referer":          {referer},
		"X-Requested-With": {"XMLHttpRequest"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readAll(resp)
	if err != nil {
		return nil, models.NewFailure(models.KindTransport, "read settings: %v", err)
	}

	var raw map[string][]struct {
		Currency    string          `json:"currency"`
		MarketPrice json.RawMessage `json:"marketPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		logger.Errorf("Settings response is not JSON: %s", prefix(body, 500))
		return nil, nil
	}

	out := make([]models.MarketSetting, 0)
	for asset, entries := range raw {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		for _, e := range entries {
			cur := strings.ToUpper(strings.TrimSpace(e.Currency))
			price, err := decimal.NewFromString(strings.Trim(string(e.MarketPrice), `"`))
			if cur == "" || err != nil {
				logger.Warnf("Skipping malformed setting %s/%q: marketPrice=%s", asset, e.Currency, string(e.MarketPrice))
				continue
			}
			out = append(out, models.MarketSetting{
				Brand:       s.Brand.Name,
				Asset:       asset,
				Currency:    cur,
				MarketPrice: price,
			})
		}
	}
	sortSettings(out)
	return out, nil
}

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func authFailure(format string, args ...any) error {
	return models.NewFailure(models.KindAuth, format, args...)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func sortSettings(s []models.MarketSetting) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Asset != s[j].Asset {
			return s[i].Asset < s[j].Asset
		}
		return s[i].Currency < s[j].Currency
	})
}
