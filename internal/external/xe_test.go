package external_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kjannette/bo-pricewatch/internal/external"
	"github.com/kjannette/bo-pricewatch/internal/models"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestXEClient_FiltersToAllowList(t *testing.T) {
	t.Parallel()

	// Arrange: a mock client returning a full rate table.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Basic dGVzdDp0ZXN0", req.Header.Get("Authorization"))
			require.Equal(t, "https://xe.test/rates", req.URL.String())
			return jsonResponse(http.StatusOK, `{"timestamp":1,"rates":{"BDT":121.6413,"INR":88.1,"EUR":0.91,"USD":1}}`), nil
		}).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewXEClient("Basic dGVzdDp0ZXN0", []string{"bdt", "INR", "NPR"}, logger,
		external.WithXEURL("https://xe.test/rates"),
		external.WithXEHTTPClient(httpClient),
	)

	// Act
	res := client.Fetch(t.Context())

	// Assert: EUR is dropped, NPR is missing but not an error.
	require.True(t, res.OK())
	require.Len(t, res.Data, 2)
	require.True(t, res.Data["BDT"].Equal(decimal.RequireFromString("121.6413")))
	require.True(t, res.Data["INR"].Equal(decimal.RequireFromString("88.1")))
	_, hasEUR := res.Data["EUR"]
	require.False(t, hasEUR)
}

func TestXEClient_Unauthorized(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusUnauthorized, `{"message":"bad auth"}`), nil).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewXEClient("", []string{"BDT"}, logger, external.WithXEHTTPClient(httpClient))

	res := client.Fetch(t.Context())

	require.False(t, res.OK())
	require.Equal(t, models.KindAuth, res.Err.Kind)
	require.Contains(t, res.Err.Message, "401")
}

func TestXEClient_TransportError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(nil, errors.New("connection reset")).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewXEClient("", []string{"BDT"}, logger, external.WithXEHTTPClient(httpClient))

	res := client.Fetch(t.Context())

	require.False(t, res.OK())
	require.Equal(t, models.KindTransport, res.Err.Kind)
}

func TestXEClient_MalformedBody(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusOK, `<html>maintenance</html>`), nil).
		Times(1)

	logger, _ := test.NewNullLogger()
	client := external.NewXEClient("", []string{"BDT"}, logger, external.WithXEHTTPClient(httpClient))

	res := client.Fetch(t.Context())

	require.False(t, res.OK())
	require.Equal(t, models.KindSchema, res.Err.Kind)
}
