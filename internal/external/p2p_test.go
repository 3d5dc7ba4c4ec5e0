package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kjannette/bo-pricewatch/internal/external"
	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/retry"
)

func ad(nick string, orders int, price string, featured bool) models.Ad {
	return models.Ad{
		Nickname:          nick,
		MonthlyOrderCount: orders,
		Price:             decimal.RequireFromString(price),
		Featured:          featured,
	}
}

func TestBuildSnapshot_ExcludesFeaturedAndRanks(t *testing.T) {
	t.Parallel()

	ads := []models.Ad{
		ad("a", 5, "120.00", false),
		ad("b", 50, "121.00", false),
		ad("c", 10, "122.00", false),
		ad("d", 1, "123.00", false),
		ad("e", 30, "124.00", false),
		ad("promo", 99, "200.00", true),
	}

	snap := external.BuildSnapshot("BDT", models.AssetUSDT, ads)

	require.Len(t, snap.TopAds, 5)
	var orders []int
	for _, a := range snap.TopAds {
		require.NotEqual(t, "promo", a.Nickname)
		orders = append(orders, a.MonthlyOrderCount)
	}
	require.Equal(t, []int{50, 30, 10, 5, 1}, orders)
	// (121+124+122+120+123)/5
	require.True(t, snap.BenchmarkRate.Equal(decimal.RequireFromString("122")), "got %s", snap.BenchmarkRate)
}

func TestBuildSnapshot_FewerThanFive(t *testing.T) {
	t.Parallel()

	snap := external.BuildSnapshot("PKR", models.AssetUSDT, []models.Ad{
		ad("x", 3, "280.50", false),
		ad("y", 7, "281.50", false),
	})

	require.Len(t, snap.TopAds, 2)
	require.Equal(t, "y", snap.TopAds[0].Nickname)
	require.True(t, snap.BenchmarkRate.Equal(decimal.RequireFromString("281")))
}

func TestBuildSnapshot_Empty(t *testing.T) {
	t.Parallel()

	snap := external.BuildSnapshot("NPR", models.AssetUSDT, []models.Ad{ad("promo", 10, "150", true)})

	require.Empty(t, snap.TopAds)
	require.True(t, snap.BenchmarkRate.IsZero())
}

type pageEntry struct {
	nick     string
	orders   int
	price    string
	featured string
}

func searchPage(entries []pageEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		priv := "null"
		if e.featured != "" {
			priv = fmt.Sprintf("%q", e.featured)
		}
		parts = append(parts, fmt.Sprintf(`{"privilegeDesc":%s,"adv":{"price":%q,"minSingleTransAmount":"500.00","dynamicMaxSingleTransAmount":"25000.00","surplusAmount":"812.44","tradeMethods":[{"tradeMethodName":"bKash"},{"tradeMethodName":"Nagad"}]},"advertiser":{"nickName":%q,"monthFinishRate":0.98,"monthOrderCount":%d}}`,
			priv, e.price, e.nick, e.orders))
	}
	return `{"code":"000000","message":null,"success":true,"data":[` + strings.Join(parts, ",") + `]}`
}

func newTestRetrier() *retry.Retrier {
	logger, _ := test.NewNullLogger()
	return retry.New(logger).WithSleep(func(context.Context, time.Duration) error { return nil })
}

func TestP2PClient_ReplaysCapturedRequest(t *testing.T) {
	t.Parallel()

	pages := map[int][]pageEntry{
		1: {{"a", 5, "120.00", ""}, {"b", 50, "121.00", ""}, {"promo", 99, "200.00", "Featured"}},
		2: {{"c", 10, "122.00", ""}, {"d", 1, "123.00", ""}},
		3: {{"e", 30, "124.00", ""}},
	}
	var seenPages []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "signed-token", r.Header.Get("Csrftoken"))
		ck, err := r.Cookie("bnc-uuid")
		require.NoError(t, err)
		require.Equal(t, "u-1", ck.Value)

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "BDT", payload["fiat"])
		require.Equal(t, "SELL", payload["tradeType"])
		page := int(payload["page"].(float64))
		seenPages = append(seenPages, page)
		fmt.Fprint(w, searchPage(pages[page]))
	}))
	defer srv.Close()

	// Arrange: the browser hands back a signed search request.
	ctrl := gomock.NewController(t)
	capturer := NewMockCapturer(ctrl)
	capturer.EXPECT().
		Capture(gomock.Any(), "https://p2p.test/sell/USDT?fiat=BDT", "adv/search").
		Return(&external.CapturedRequest{
			URL:     srv.URL + "/bapi/c2c/v2/friendly/c2c/adv/search",
			Method:  http.MethodPost,
			Headers: map[string]string{"csrftoken": "signed-token", "content-type": "application/json", "Content-Length": "99"},
			Body:    []byte(`{"fiat":"BDT","page":1,"rows":10,"tradeType":"SELL","asset":"USDT","payTypes":[]}`),
			Cookies: []*http.Cookie{{Name: "bnc-uuid", Value: "u-1"}},
		}, nil).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewP2PClient(capturer, newTestRetrier(), logger,
		external.WithP2PHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		external.WithP2PPageURL("https://p2p.test/sell/USDT?fiat=%s"),
		external.WithP2PMatch("adv/search"),
		external.WithP2PMaxPages(3),
	)

	// Act
	res := client.FetchSnapshot(t.Context(), "bdt")

	// Assert
	require.True(t, res.OK(), "unexpected failure: %v", res.Err)
	require.Equal(t, []int{1, 2, 3}, seenPages)
	snap := res.Data
	require.Equal(t, "BDT", snap.Fiat)
	require.Len(t, snap.TopAds, 5)
	require.Equal(t, "b", snap.TopAds[0].Nickname)
	require.True(t, snap.BenchmarkRate.Equal(decimal.RequireFromString("122")))
	require.Len(t, snap.Ads, 5)
	require.Equal(t, []string{"bKash", "Nagad"}, snap.Ads[0].PaymentMethods)
	require.True(t, snap.Ads[0].Available.Equal(decimal.RequireFromString("812.44")))
	require.True(t, snap.Ads[0].CompletionRate.Equal(decimal.RequireFromString("0.98")))
}

func TestP2PClient_CaptureMissIsNotRetried(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	capturer := NewMockCapturer(ctrl)
	capturer.EXPECT().
		Capture(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, external.ErrSearchNotCaptured).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewP2PClient(capturer, newTestRetrier(), logger)

	res := client.FetchSnapshot(t.Context(), "BDT")

	require.False(t, res.OK())
	require.Equal(t, models.KindConfig, res.Err.Kind)
}

func TestP2PClient_TransientBrowserFailureRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, searchPage(nil))
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	capturer := NewMockCapturer(ctrl)
	gomock.InOrder(
		capturer.EXPECT().
			Capture(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("page not ready")).
			Times(2),
		capturer.EXPECT().
			Capture(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&external.CapturedRequest{URL: srv.URL, Body: []byte(`{"fiat":"PKR","page":1}`)}, nil).
			Times(1),
	)

	logger, _ := test.NewNullLogger()
	client := external.NewP2PClient(capturer, newTestRetrier(), logger,
		external.WithP2PHTTPClient(&http.Client{Timeout: 5 * time.Second}),
	)

	res := client.FetchSnapshot(t.Context(), "PKR")

	// Assert: an empty first page stops paging and yields a zero benchmark.
	require.True(t, res.OK(), "unexpected failure: %v", res.Err)
	require.Equal(t, int32(1), hits.Load())
	require.True(t, res.Data.BenchmarkRate.IsZero())
	require.Empty(t, res.Data.TopAds)
}

func TestP2PClient_RejectedSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"083999","message":"signature expired","success":false,"data":null}`)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	capturer := NewMockCapturer(ctrl)
	capturer.EXPECT().
		Capture(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&external.CapturedRequest{URL: srv.URL, Body: []byte(`{"page":1}`)}, nil).
		Times(3)

	logger, _ := test.NewNullLogger()
	client := external.NewP2PClient(capturer, newTestRetrier(), logger,
		external.WithP2PHTTPClient(&http.Client{Timeout: 5 * time.Second}),
	)

	res := client.FetchSnapshot(t.Context(), "INR")

	require.False(t, res.OK())
	require.Equal(t, models.KindTransport, res.Err.Kind)
	require.Contains(t, res.Err.Message, "signature expired")
}
