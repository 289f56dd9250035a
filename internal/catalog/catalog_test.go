package catalog

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/quotekeeper/internal/config"
	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/yahoo"
)

type pageFetcher struct {
	bodies map[string]string
}

func (f *pageFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Document, error) {
	body, ok := f.bodies[req.URL]
	if !ok {
		return nil, &fetch.FetchError{URL: req.URL, Kind: fetch.KindHTTP, StatusCode: http.StatusNotFound}
	}
	return &fetch.Document{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body), FetchedAt: time.Now()}, nil
}

type spot struct{}

func (spot) LatestValue(context.Context, string) (decimal.Decimal, time.Time, error) {
	return decimal.NewFromInt(130000), time.Now(), nil
}

func register(t *testing.T, f fetch.Fetcher, overrides map[string]extract.Cascade) *scraper.Registry {
	t.Helper()
	reg := scraper.NewRegistry()
	Register(reg, Deps{
		Fetcher:        f,
		Yahoo:          yahoo.New(yahoo.WithFetcher(f)),
		Spot:           spot{},
		FuturesPremium: decimal.RequireFromString("0.006"),
		Overrides:      overrides,
	})
	return reg
}

func TestRegister_EveryInstrumentHasChain(t *testing.T) {
	reg := register(t, &pageFetcher{}, nil)

	for _, inst := range Instruments() {
		c, err := reg.Get(inst.Key)
		require.NoError(t, err, inst.Key)
		assert.NotEmpty(t, c.Strategies(), inst.Key)
		assert.Equal(t, inst.Range, c.Range(), inst.Key)
	}
}

func TestGoldCascade(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		rule string
	}{
		{"per gram", "Today's rates. 24 Karat Gold (999 purity) : ₹13,014 per gram. Updated 11:00 AM", "130140", "24k_per_gram"},
		{"per 10g", "24K gold price today Rs. 1,30,140 per 10 g in Mumbai", "130140", "24k_per_10g"},
		{"table", "Gram | 24 Carat\n10 gram ₹ 1,29,880 ₹ 1,19,050", "129880", "table_10g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := extract.Extract(tt.text, GoldCascade())
			require.NoError(t, err)
			assert.True(t, m.Value.Equal(decimal.RequireFromString(tt.want)), "got %s", m.Value)
			assert.Equal(t, tt.rule, m.Rule)
		})
	}
}

func TestRegister_GoldFromPage(t *testing.T) {
	f := &pageFetcher{bodies: map[string]string{
		"https://www.goodreturns.in/gold-rates/": `<html><body><p>24 Karat Gold (999 purity) : ₹13,014 per gram</p></body></html>`,
	}}
	reg := register(t, f, nil)

	c, err := reg.Get(Gold)
	require.NoError(t, err)
	obs, attempts, err := c.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, obs.Value.Equal(decimal.NewFromInt(130140)))
	assert.Equal(t, "goodreturns", obs.Source)
	assert.Len(t, attempts, 1)
}

func TestRegister_FuturesFallsBackToComputed(t *testing.T) {
	reg := register(t, &pageFetcher{}, nil)

	c, err := reg.Get(GoldFuture)
	require.NoError(t, err)
	obs, attempts, err := c.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, obs.Value.Equal(decimal.NewFromInt(130780)), "got %s", obs.Value)
	require.Len(t, attempts, 2)
	assert.Error(t, attempts[0].Err)
	assert.True(t, attempts[1].OK())
}

func TestRegister_Overrides(t *testing.T) {
	f := &pageFetcher{bodies: map[string]string{
		"https://www.goodreturns.in/gold-rates/": `<p>Fine gold: 1,31,000</p>`,
	}}
	override := extract.Cascade{Rules: []extract.Rule{{
		Name:     "fine_gold",
		Priority: 1,
		Pattern:  regexp.MustCompile(`Fine gold: ([\d,]+)`),
		Range:    extract.NewRange(40000, 400000),
	}}}
	reg := register(t, f, map[string]extract.Cascade{"goodreturns": override})

	c, err := reg.Get(Gold)
	require.NoError(t, err)
	obs, _, err := c.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, obs.Value.Equal(decimal.NewFromInt(131000)))
}

type refresher struct {
	keys []string
}

func (r *refresher) Refresh(_ context.Context, keys ...string) (map[string]string, error) {
	r.keys = append(r.keys, keys...)
	return map[string]string{}, nil
}

func TestJobs(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	r := &refresher{}

	defs := Jobs(cfg.Scheduler, r)
	require.Len(t, defs, 4)

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		_, err := d.Task(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"price", "markets", "bitcoin", "futures"}, names)
	assert.Equal(t, "gold", defs[0].Target)
	assert.Equal(t, "0 11 * * *", defs[0].Cron)
	assert.Equal(t, []string{Gold, Sensex, Nifty50, USDINR, BitcoinINR, GoldFuture}, r.keys)
}
