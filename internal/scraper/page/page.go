// Package page reads a quote from an HTML (or plain text) page using a rule
// cascade, optionally narrowed to a CSS selector, and recovers the day's
// change from the numbers around it.
package page

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

// Source configures one page.
type Source struct {
	Name    string
	URL     string
	Headers http.Header
	Timeout time.Duration

	// Selector narrows extraction to the first matching element.
	Selector string
	// Raw skips HTML parsing and runs the cascade on the body as is.
	Raw     bool
	Cascade extract.Cascade

	// MatchChange enables DOM proximity change matching around the value.
	MatchChange bool
	Match       extract.MatchConfig
}

type Strategy struct {
	fetcher fetch.Fetcher
	src     Source
}

func New(f fetch.Fetcher, src Source) *Strategy {
	if src.Match.WindowSize == 0 {
		src.Match = extract.DefaultMatchConfig()
	}
	return &Strategy{fetcher: f, src: src}
}

func (s *Strategy) Name() string { return s.src.Name }

// WithCascade returns a copy of s using c. Used to apply rule catalog
// overrides.
func (s *Strategy) WithCascade(c extract.Cascade) *Strategy {
	src := s.src
	src.Cascade = c
	return &Strategy{fetcher: s.fetcher, src: src}
}

func (s *Strategy) Resolve(ctx context.Context, entityKey string) (*scraper.Observation, error) {
	doc, err := s.fetcher.Fetch(ctx, fetch.Request{
		URL:     s.src.URL,
		Headers: s.src.Headers,
		Timeout: s.src.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if s.src.Raw {
		m, err := extract.Extract(doc.String(), s.src.Cascade)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.src.Name, err)
		}
		return s.observation(doc, m), nil
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("%s: parse html: %w", s.src.Name, err)
	}

	scope := gq.Selection
	if s.src.Selector != "" {
		scope = gq.Find(s.src.Selector).First()
		if scope.Length() == 0 {
			return nil, fmt.Errorf("%s: selector %q: %w", s.src.Name, s.src.Selector, extract.ErrNotFound)
		}
	}

	parts := make([]string, 0, len(scope.Nodes))
	for _, n := range scope.Nodes {
		parts = append(parts, extract.VisibleText(n))
	}
	m, err := extract.Extract(strings.Join(parts, " "), s.src.Cascade)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.src.Name, err)
	}
	obs := s.observation(doc, m)

	if s.src.MatchChange && len(gq.Nodes) > 0 {
		change, pct, ok := extract.MatchChangeInDocument(gq.Nodes[0], scope.Nodes[0], m.Parsed, s.src.Match)
		if ok {
			if !m.Parsed.IsZero() && !m.Parsed.Equal(m.Value) {
				change = change.Mul(m.Value.Div(m.Parsed))
			}
			obs.Change = change
			obs.PercentChange = pct
		}
	}
	return obs, nil
}

func (s *Strategy) observation(doc *fetch.Document, m extract.Match) *scraper.Observation {
	return &scraper.Observation{
		Value:         m.Value,
		Change:        decimal.Zero,
		PercentChange: decimal.Zero,
		ObservedAt:    doc.FetchedAt,
		Source:        s.src.Name,
	}
}
