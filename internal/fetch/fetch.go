// Package fetch retrieves raw documents from upstream quote sources. Every
// failure is typed so the source chain can decide whether to fall back.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 15 * time.Second

	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7"
	acceptLanguage = "en-IN,en-GB;q=0.9,en;q=0.8"
)

// Request describes a single GET.
type Request struct {
	URL     string
	Headers http.Header
	// Timeout overrides the fetcher's default when non-zero.
	Timeout time.Duration
}

// Document is the raw response body of a successful fetch.
type Document struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

func (d *Document) String() string { return string(d.Body) }

// Fetcher performs one bounded GET.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Document, error)
}

// BrowserHeaders returns the header set sent with every request. Sources
// reject bare default clients.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", acceptHTML)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return h
}

type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindHTTP       Kind = "http"
	KindConnection Kind = "connection"
)

// FetchError is a network, timeout or HTTP status failure. All kinds are
// recoverable by moving to the next source.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// BlockedError reports bot-detection content. The caller should switch to an
// alternate fetch strategy rather than retry the same one.
type BlockedError struct {
	URL    string
	Reason BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetch %s: blocked (%s)", e.URL, e.Reason)
}

func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

func IsTimeout(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}
