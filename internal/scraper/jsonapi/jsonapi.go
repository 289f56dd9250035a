// Package jsonapi reads a quote out of an arbitrary JSON endpoint using
// gjson paths.
package jsonapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

// Source configures one endpoint. Paths use gjson syntax. PercentPath
// without ChangePath derives the absolute change from the percentage.
type Source struct {
	Name        string
	URL         string
	Headers     http.Header
	ValuePath   string
	ChangePath  string
	PercentPath string
	// TimePath points at a unix timestamp in seconds.
	TimePath string
}

type Strategy struct {
	fetcher fetch.Fetcher
	src     Source
}

func New(f fetch.Fetcher, src Source) *Strategy {
	return &Strategy{fetcher: f, src: src}
}

func (s *Strategy) Name() string { return s.src.Name }

var hundred = decimal.NewFromInt(100)

func (s *Strategy) Resolve(ctx context.Context, _ string) (*scraper.Observation, error) {
	h := s.src.Headers
	if h == nil {
		h = http.Header{"Accept": []string{"application/json"}}
	}
	doc, err := s.fetcher.Fetch(ctx, fetch.Request{URL: s.src.URL, Headers: h})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(doc.Body) {
		return nil, fmt.Errorf("%s: invalid json", s.src.Name)
	}

	value, ok, err := number(doc.Body, s.src.ValuePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.src.Name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", s.src.Name, s.src.ValuePath, extract.ErrNotFound)
	}

	obs := &scraper.Observation{Value: value, ObservedAt: doc.FetchedAt, Source: s.src.Name}

	if s.src.ChangePath != "" {
		if v, ok, _ := number(doc.Body, s.src.ChangePath); ok {
			obs.Change = v
		}
	}
	if s.src.PercentPath != "" {
		if p, ok, _ := number(doc.Body, s.src.PercentPath); ok {
			obs.PercentChange = p.Round(4)
			if s.src.ChangePath == "" {
				// value = prev * (1 + p/100)
				prev := value.Div(hundred.Add(p).Div(hundred))
				obs.Change = value.Sub(prev).Round(2)
			}
		}
	}
	if s.src.TimePath != "" {
		if ts := gjson.GetBytes(doc.Body, s.src.TimePath); ts.Exists() && ts.Int() > 0 {
			obs.ObservedAt = time.Unix(ts.Int(), 0).UTC()
		}
	}
	return obs, nil
}

// number reads path as a decimal. String values go through the page number
// normalizer, so "₹1,30,140" is accepted.
func number(body []byte, path string) (decimal.Decimal, bool, error) {
	r := gjson.GetBytes(body, path)
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero, false, nil
	}
	switch r.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(r.Raw)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("%s: %w", path, err)
		}
		return d, true, nil
	case gjson.String:
		d, err := extract.NormalizeNumber(r.Str)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("%s: %w", path, err)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("%s: not a number", path)
	}
}
