package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// stubProvider serves a deterministic oscillating price path for any ticker.
type stubProvider struct{}

func (stubProvider) Prices(_ context.Context, tickers []string, start, end time.Time) (data.PricePanel, error) {
	series := map[string]data.PriceSeries{}
	for ti, tk := range tickers {
		var s data.PriceSeries
		for i := 0; i < 120; i++ {
			d := start.AddDate(0, 0, i)
			if d.After(end) {
				break
			}
			px := 100.0 + float64(ti) + 0.1*float64(i) + 3.0*math.Sin(float64(i)/5.0+float64(ti))
			s.Dates = append(s.Dates, d)
			s.Close = append(s.Close, px)
		}
		series[tk] = s
	}
	return data.NewPricePanel(series)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(stubProvider{}, "sekret-key-123")
}

func post(t *testing.T, server *Server, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthentication(t *testing.T) {
	server := newTestServer(t)
	body := gin.H{"ticker": "AAPL", "rule": "sma_long_only", "start": "2024-01-01", "end": "2024-04-01"}

	rec := post(t, server, "/v1/strategy", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, server, "/v1/strategy", "wrong-key", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStrategyEndpoint(t *testing.T) {
	server := newTestServer(t)
	body := gin.H{"ticker": "AAPL", "rule": "sma_long_only", "start": "2024-01-01", "end": "2024-04-01"}

	rec := post(t, server, "/v1/strategy", "sekret-key-123", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Name     string  `json:"name"`
		Position []int   `json:"position"`
		Trades   float64 `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got.Name)
	require.NotEmpty(t, got.Position)
}

func TestStrategyEndpointBadDates(t *testing.T) {
	server := newTestServer(t)
	body := gin.H{"ticker": "AAPL", "rule": "sma_long_only", "start": "2024-04-01", "end": "2024-01-01"}
	rec := post(t, server, "/v1/strategy", "sekret-key-123", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
