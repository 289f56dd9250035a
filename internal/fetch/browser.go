package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless Chrome. It is slower than
// HTTPFetcher and is only used for sources that block plain clients.
type BrowserFetcher struct {
	timeout  time.Duration
	waitFor  string
	execPath string
}

type BrowserOption func(*BrowserFetcher)

// WithWaitSelector waits for the CSS selector to become visible before the
// DOM is captured.
func WithWaitSelector(sel string) BrowserOption {
	return func(b *BrowserFetcher) { b.waitFor = sel }
}

func WithExecPath(path string) BrowserOption {
	return func(b *BrowserFetcher) { b.execPath = path }
}

func WithBrowserTimeout(d time.Duration) BrowserOption {
	return func(b *BrowserFetcher) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func NewBrowser(opts ...BrowserOption) *BrowserFetcher {
	b := &BrowserFetcher{timeout: 2 * DefaultTimeout}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *BrowserFetcher) Fetch(ctx context.Context, req Request) (*Document, error) {
	timeout := b.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if b.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	tasks := chromedp.Tasks{chromedp.Navigate(req.URL)}
	if b.waitFor != "" {
		tasks = append(tasks, chromedp.WaitVisible(b.waitFor, chromedp.ByQuery))
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	start := time.Now()
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, classify(ctx, req.URL, fmt.Errorf("browser: %w", err))
	}

	body := []byte(html)
	if blocked, reason := DetectBlock(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, body); blocked {
		return nil, &BlockedError{URL: req.URL, Reason: reason}
	}

	slog.Debug("fetch: rendered", "url", req.URL, "bytes", len(body), "duration", time.Since(start).String())

	return &Document{
		URL:         req.URL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
