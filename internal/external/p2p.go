package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/bo-pricewatch/internal/httputil"
	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/retry"
)

const (
	defaultP2PPageURL = "https://p2p.binance.com/en/trade/sell/USDT?fiat=%s&payment=all-payments"
	defaultP2PMatch   = "bapi/c2c/v2/friendly/c2c/adv/search"
	topAdCount        = models.TopAdSlots
)

// ErrSearchNotCaptured means the page finished loading without issuing the
// marketplace search request. The site changed or loaded too fast; retrying
// the same way will not help.
var ErrSearchNotCaptured = errors.New("could not capture the search request")

// CapturedRequest is a live, session-bound request observed in the browser.
type CapturedRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Cookies []*http.Cookie
}

// Capturer loads pageURL and returns the first request whose URL contains
// match. It returns ErrSearchNotCaptured when nothing matched.
//
//go:generate mockgen -package=external_test -destination=mock_capturer_test.go -source=p2p.go Capturer
type Capturer interface {
	Capture(ctx context.Context, pageURL, match string) (*CapturedRequest, error)
}

type P2PClient struct {
	capturer   Capturer
	httpClient HTTPClient
	retrier    *retry.Retrier
	policy     retry.Policy
	limiter    *rate.Limiter
	logger     logrus.FieldLogger

	pageURL  string
	match    string
	maxPages int
	now      func() time.Time
}

type P2POption func(*P2PClient)

func WithP2PHTTPClient(httpClient HTTPClient) P2POption {
	return func(c *P2PClient) { c.httpClient = httpClient }
}

// WithP2PPageURL sets the human-facing search page; %s is replaced by the fiat code.
func WithP2PPageURL(pageURL string) P2POption {
	return func(c *P2PClient) {
		if pageURL != "" {
			c.pageURL = pageURL
		}
	}
}

func WithP2PMatch(match string) P2POption {
	return func(c *P2PClient) {
		if match != "" {
			c.match = match
		}
	}
}

func WithP2PMaxPages(n int) P2POption {
	return func(c *P2PClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithP2PRate paces page replays.
func WithP2PRate(rps float64) P2POption {
	return func(c *P2PClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithP2PPolicy(p retry.Policy) P2POption {
	return func(c *P2PClient) { c.policy = p }
}

func NewP2PClient(capturer Capturer, retrier *retry.Retrier, logger logrus.FieldLogger, options ...P2POption) *P2PClient {
	c := &P2PClient{
		capturer:   capturer,
		httpClient: httputil.NewClient(0, nil),
		retrier:    retrier,
		policy:     retry.DefaultBrowserPolicy("p2p"),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger,
		pageURL:    defaultP2PPageURL,
		match:      defaultP2PMatch,
		maxPages:   3,
		now:        time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// FetchSnapshot captures the live search request for fiat, replays it for
// pages 1..maxPages and ranks the eligible ads.
func (c *P2PClient) FetchSnapshot(ctx context.Context, fiat string) models.Result[models.P2PSnapshot] {
	fiat = strings.ToUpper(fiat)
	p := c.policy
	p.Name = "p2p " + fiat
	return retry.Exponential(ctx, c.retrier, p, func(ctx context.Context) models.Result[models.P2PSnapshot] {
		return c.fetchOnce(ctx, fiat)
	})
}

func (c *P2PClient) fetchOnce(ctx context.Context, fiat string) models.Result[models.P2PSnapshot] {
	pageURL := c.pageURL
	if strings.Contains(pageURL, "%s") {
		pageURL = fmt.Sprintf(pageURL, fiat)
	}

	captured, err := c.capturer.Capture(ctx, pageURL, c.match)
	if errors.Is(err, ErrSearchNotCaptured) {
		return models.Fail[models.P2PSnapshot](models.KindConfig, "%s: %v", fiat, err)
	}
	if err != nil {
		return models.Fail[models.P2PSnapshot](models.KindTransport, "browser capture: %v", err)
	}

	var ads []models.Ad
	for page := 1; page <= c.maxPages; page++ {
		pageAds, n, f := c.replayPage(ctx, captured, page, fiat)
		if f != nil {
			return models.FailWith[models.P2PSnapshot](f, f.Kind)
		}
		ads = append(ads, pageAds...)
		if n == 0 {
			break
		}
	}

	snap := BuildSnapshot(fiat, models.AssetUSDT, ads)
	snap.ObservedAt = c.now()
	c.logger.Infof("P2P %s: %d eligible ads, benchmark %s", fiat, len(ads), snap.BenchmarkRate.StringFixed(2))
	return models.Success(snap)
}

// replayPage returns the eligible ads and the raw entry count for the page.
func (c *P2PClient) replayPage(ctx context.Context, captured *CapturedRequest, page int, fiat string) ([]models.Ad, int, *models.Failure) {
	body, err := withPage(captured.Body, page)
	if err != nil {
		return nil, 0, models.NewFailure(models.KindConfig, "captured body: %v", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, models.NewFailure(models.KindTransport, "rate limiter: %v", err)
	}

	method := captured.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, captured.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, models.NewFailure(models.KindConfig, "build replay: %v", err)
	}
	for k, v := range captured.Headers {
		if skipReplayHeader(k) {
			continue
		}
		if strings.EqualFold(k, "cookie") && len(captured.Cookies) > 0 {
			continue
		}
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range captured.Cookies {
		req.AddCookie(ck)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, models.NewFailure(models.KindTransport, "page %d: %v", page, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, models.NewFailure(models.KindTransport, "page %d: status %d: %s", page, resp.StatusCode, httputil.BodyPrefix(resp, 256))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, models.NewFailure(models.KindSchema, "page %d decode: %v", page, err)
	}
	if payload.Success != nil && !*payload.Success {
		return nil, 0, models.NewFailure(models.KindTransport, "page %d rejected: code=%s %s", page, payload.Code, payload.Message)
	}
	return payload.ads(), len(payload.Data), nil
}

type searchResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Success *bool         `json:"success"`
	Data    []searchEntry `json:"data"`
}

type searchEntry struct {
	PrivilegeDesc *string `json:"privilegeDesc"`
	Adv           struct {
		Price                       decimal.Decimal `json:"price"`
		MinSingleTransAmount        decimal.Decimal `json:"minSingleTransAmount"`
		DynamicMaxSingleTransAmount decimal.Decimal `json:"dynamicMaxSingleTransAmount"`
		SurplusAmount               decimal.Decimal `json:"surplusAmount"`
		TradeMethods                []struct {
			TradeMethodName string `json:"tradeMethodName"`
		} `json:"tradeMethods"`
	} `json:"adv"`
	Advertiser struct {
		NickName        string          `json:"nickName"`
		MonthFinishRate decimal.Decimal `json:"monthFinishRate"`
		MonthOrderCount int             `json:"monthOrderCount"`
	} `json:"advertiser"`
}

// ads converts entries, flagging featured ones.
func (r searchResponse) ads() []models.Ad {
	out := make([]models.Ad, 0, len(r.Data))
	for _, e := range r.Data {
		methods := make([]string, 0, len(e.Adv.TradeMethods))
		for _, m := range e.Adv.TradeMethods {
			methods = append(methods, m.TradeMethodName)
		}
		out = append(out, models.Ad{
			Price:             e.Adv.Price,
			MinAmount:         e.Adv.MinSingleTransAmount,
			MaxAmount:         e.Adv.DynamicMaxSingleTransAmount,
			Available:         e.Adv.SurplusAmount,
			Nickname:          e.Advertiser.NickName,
			CompletionRate:    e.Advertiser.MonthFinishRate,
			MonthlyOrderCount: e.Advertiser.MonthOrderCount,
			PaymentMethods:    methods,
			Featured:          e.PrivilegeDesc != nil && *e.PrivilegeDesc != "",
		})
	}
	return out
}

// BuildSnapshot drops featured ads, ranks the rest by monthly order count
// (stable, descending), keeps the top five and averages their prices. With
// no eligible ads the benchmark is zero.
func BuildSnapshot(fiat, asset string, ads []models.Ad) models.P2PSnapshot {
	eligible := make([]models.Ad, 0, len(ads))
	for _, ad := range ads {
		if ad.Featured {
			continue
		}
		eligible = append(eligible, ad)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].MonthlyOrderCount > eligible[j].MonthlyOrderCount
	})

	n := min(len(eligible), topAdCount)
	snap := models.P2PSnapshot{
		Fiat:          fiat,
		Asset:         asset,
		BenchmarkRate: decimal.Zero,
		TopAds:        make([]models.TopAd, 0, n),
		Ads:           eligible,
	}
	if n == 0 {
		return snap
	}

	sum := decimal.Zero
	for _, ad := range eligible[:n] {
		sum = sum.Add(ad.Price)
		snap.TopAds = append(snap.TopAds, models.TopAd{
			Nickname:          ad.Nickname,
			MonthlyOrderCount: ad.MonthlyOrderCount,
			Price:             ad.Price,
		})
	}
	snap.BenchmarkRate = sum.Div(decimal.NewFromInt(int64(n)))
	return snap
}

// withPage rewrites only the page field of a captured JSON body.
func withPage(body []byte, page int) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	fields["page"] = raw
	return json.Marshal(fields)
}

func skipReplayHeader(k string) bool {
	if strings.HasPrefix(k, ":") {
		return true
	}
	switch strings.ToLower(k) {
	case "content-length", "host", "accept-encoding", "connection":
		return true
	}
	return false
}
