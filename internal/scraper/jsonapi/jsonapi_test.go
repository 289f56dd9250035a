package jsonapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
)

func serve(t *testing.T, body string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestStrategy_CoinGecko(t *testing.T) {
	url := serve(t, `{"bitcoin":{"inr":5500000,"inr_24h_change":10,"last_updated_at":1760500800}}`)

	s := New(fetch.New(), Source{
		Name:        "coingecko",
		URL:         url,
		ValuePath:   "bitcoin.inr",
		PercentPath: "bitcoin.inr_24h_change",
		TimePath:    "bitcoin.last_updated_at",
	})

	obs, err := s.Resolve(context.Background(), "BTC_INR")
	require.NoError(t, err)
	assert.True(t, obs.Value.Equal(decimal.NewFromInt(5500000)))
	assert.True(t, obs.PercentChange.Equal(decimal.NewFromInt(10)))
	// prev = 5500000 / 1.1 = 5000000
	assert.True(t, obs.Change.Equal(decimal.NewFromInt(500000)), "got %s", obs.Change)
	assert.Equal(t, int64(1760500800), obs.ObservedAt.Unix())
}

func TestStrategy_StringValues(t *testing.T) {
	url := serve(t, `{"data":{"price":"₹1,30,140.50","change":"-120.5"}}`)

	s := New(fetch.New(), Source{Name: "api", URL: url, ValuePath: "data.price", ChangePath: "data.change"})
	obs, err := s.Resolve(context.Background(), "GOLD_24K_10G")
	require.NoError(t, err)
	assert.True(t, obs.Value.Equal(decimal.RequireFromString("130140.5")))
	assert.True(t, obs.Change.Equal(decimal.RequireFromString("-120.5")))
}

func TestStrategy_MissingValue(t *testing.T) {
	url := serve(t, `{"bitcoin":{}}`)

	s := New(fetch.New(), Source{Name: "coingecko", URL: url, ValuePath: "bitcoin.inr"})
	_, err := s.Resolve(context.Background(), "BTC_INR")
	assert.ErrorIs(t, err, extract.ErrNotFound)
}

func TestStrategy_InvalidJSON(t *testing.T) {
	url := serve(t, `<html>not json</html>`)

	s := New(fetch.New(), Source{Name: "coingecko", URL: url, ValuePath: "bitcoin.inr"})
	_, err := s.Resolve(context.Background(), "BTC_INR")
	assert.Error(t, err)
}
