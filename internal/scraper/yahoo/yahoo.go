// Package yahoo reads the current quote of a symbol from the Yahoo Finance
// v8 chart API. It uses cookie + crumb authentication, matching the approach
// used by the yfinance Python library.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

const (
	defaultChartEndpoint = "https://query2.finance.yahoo.com/v8/finance/chart"
	defaultCookieURL     = "https://fc.yahoo.com"
	defaultCrumbURL      = "https://query1.finance.yahoo.com/v1/test/getcrumb"
)

// Client holds the Yahoo session shared by every symbol strategy.
type Client struct {
	fetcher       fetch.Fetcher
	chartEndpoint string
	cookieURL     string
	crumbURL      string

	mu    sync.Mutex
	crumb string
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		fetcher:       fetch.New(fetch.WithClient(&http.Client{Jar: jar})),
		chartEndpoint: defaultChartEndpoint,
		cookieURL:     defaultCookieURL,
		crumbURL:      defaultCrumbURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithFetcher sets the fetcher. Its HTTP client must keep cookies.
func WithFetcher(f fetch.Fetcher) Option {
	return func(c *Client) { c.fetcher = f }
}

// WithChartEndpoint overrides the default chart API endpoint.
func WithChartEndpoint(ep string) Option {
	return func(c *Client) { c.chartEndpoint = ep }
}

// WithCookieURL overrides the URL used to obtain the session cookie.
func WithCookieURL(u string) Option {
	return func(c *Client) { c.cookieURL = u }
}

// WithCrumbURL overrides the URL used to obtain the crumb token.
func WithCrumbURL(u string) Option {
	return func(c *Client) { c.crumbURL = u }
}

// Strategy returns a chain strategy reading symbol.
func (c *Client) Strategy(symbol string) scraper.Strategy {
	return &strategy{client: c, symbol: symbol}
}

type strategy struct {
	client *Client
	symbol string
}

func (s *strategy) Name() string { return "yahoo:" + s.symbol }

func (s *strategy) Resolve(ctx context.Context, _ string) (*scraper.Observation, error) {
	return s.client.Quote(ctx, s.symbol)
}

// chartResponse is the subset of the v8 chart response we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string          `json:"symbol"`
				Currency           string          `json:"currency"`
				RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
				ChartPreviousClose decimal.Decimal `json:"chartPreviousClose"`
				PreviousClose      decimal.Decimal `json:"previousClose"`
				RegularMarketTime  int64           `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote fetches the latest price and derives the change against the
// previous close.
func (c *Client) Quote(ctx context.Context, symbol string) (*scraper.Observation, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	// Ensure we have a valid crumb before asking for the chart.
	if err := c.ensureCrumb(ctx); err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	c.mu.Lock()
	crumb := c.crumb
	c.mu.Unlock()

	reqURL := fmt.Sprintf("%s/%s?range=5d&interval=1d&crumb=%s",
		c.chartEndpoint, url.PathEscape(symbol), url.QueryEscape(crumb))

	doc, err := c.fetcher.Fetch(ctx, fetch.Request{URL: reqURL, Headers: jsonHeaders()})
	if err != nil {
		// Invalidate crumb on auth errors so the next call retries auth.
		var fe *fetch.FetchError
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusUnauthorized || fe.StatusCode == http.StatusForbidden) {
			c.mu.Lock()
			c.crumb = ""
			c.mu.Unlock()
		}
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(doc.Body, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo response: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no result for %s", symbol)
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice.IsZero() {
		return nil, fmt.Errorf("yahoo: no price for %s", symbol)
	}

	prev := meta.ChartPreviousClose
	if prev.IsZero() {
		prev = meta.PreviousClose
	}
	obs := &scraper.Observation{
		Value:      meta.RegularMarketPrice,
		ObservedAt: doc.FetchedAt,
		Source:     "yahoo",
	}
	if meta.RegularMarketTime > 0 {
		obs.ObservedAt = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	if !prev.IsZero() {
		obs.Change = meta.RegularMarketPrice.Sub(prev)
		obs.PercentChange = obs.Change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}

	slog.Debug("retrieved yahoo quote", "symbol", symbol, "price", obs.Value.String(), "currency", meta.Currency)
	return obs, nil
}

// ensureCrumb fetches a session cookie and crumb token if not already cached.
func (c *Client) ensureCrumb(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return nil
	}

	// Step 1: GET fc.yahoo.com to obtain a session cookie. It answers 404
	// but still sets the cookie.
	if _, err := c.fetcher.Fetch(ctx, fetch.Request{URL: c.cookieURL}); err != nil {
		var fe *fetch.FetchError
		if !errors.As(err, &fe) || fe.Kind != fetch.KindHTTP {
			return fmt.Errorf("fetch cookie: %w", err)
		}
	}

	// Step 2: GET crumb endpoint (cookie is sent automatically via jar).
	doc, err := c.fetcher.Fetch(ctx, fetch.Request{URL: c.crumbURL})
	if err != nil {
		return fmt.Errorf("fetch crumb: %w", err)
	}

	crumb := strings.TrimSpace(doc.String())
	if crumb == "" {
		return fmt.Errorf("empty crumb received")
	}

	c.crumb = crumb
	slog.Info("yahoo: obtained crumb", "crumb_len", len(crumb))
	return nil
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	return h
}
