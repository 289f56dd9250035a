package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 4 << 20

// HTTPFetcher fetches documents with net/http, paced per upstream host.
type HTTPFetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	headers      http.Header

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTPFetcher with the given options applied.
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		timeout:      DefaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		headers:      BrowserHeaders(),
		limit:        rate.Inf,
		burst:        1,
		limiters:     make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout sets the default hard timeout for a fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// WithHostRate limits requests per second to any single host.
func WithHostRate(perSecond float64, burst int) Option {
	return func(f *HTTPFetcher) {
		if perSecond > 0 {
			f.limit = rate.Limit(perSecond)
		}
		if burst > 0 {
			f.burst = burst
		}
	}
}

// Fetch performs a GET with browser-like headers and a hard deadline.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Document, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{Kind: KindConnection, URL: req.URL, Err: errors.New("invalid url")}
	}

	timeout := f.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, classify(ctx, req.URL, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindConnection, URL: req.URL, Err: err}
	}
	for k, vs := range f.headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	start := time.Now()
	res, err := f.client.Do(httpReq) //nolint:gosec // URL from source catalog
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, f.maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}

	if blocked, reason := DetectBlock(res, body); blocked {
		slog.Warn("fetch: blocked", "url", req.URL, "status", res.StatusCode, "reason", reason)
		return nil, &BlockedError{URL: req.URL, Reason: reason}
	}

	if res.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{Kind: KindHTTP, URL: req.URL, StatusCode: res.StatusCode}
	}

	slog.Debug("fetch: ok", "url", req.URL, "status", res.StatusCode,
		"bytes", len(body), "duration", time.Since(start).String())

	return &Document{
		URL:         req.URL,
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = l
	}
	return l
}

// classify maps transport errors onto the fetch taxonomy.
func classify(ctx context.Context, rawURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &FetchError{Kind: KindConnection, URL: rawURL, Err: err}
}
