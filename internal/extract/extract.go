// Package extract pulls plausible numeric quotes out of noisy page content.
//
// Values are found with an ordered rule cascade: the first rule whose match
// normalizes to an in-range number wins and later rules are never consulted.
// Change/percent pairs are recovered by DOM proximity plus an arithmetic
// consistency check (see MatchChange).
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means no rule and no keyword scan produced a value.
	ErrNotFound = errors.New("value not found")
	// ErrOutOfRange means numbers matched but none were plausible. It wraps
	// ErrNotFound so callers can treat both the same way.
	ErrOutOfRange = fmt.Errorf("%w: matched values out of range", ErrNotFound)
)

// Range is an inclusive plausible interval. A zero Range accepts anything.
type Range struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func NewRange(lo, hi float64) Range {
	return Range{Min: decimal.NewFromFloat(lo), Max: decimal.NewFromFloat(hi)}
}

func (r Range) IsZero() bool { return r.Min.IsZero() && r.Max.IsZero() }

func (r Range) Contains(v decimal.Decimal) bool {
	if r.IsZero() {
		return true
	}
	return v.GreaterThanOrEqual(r.Min) && v.LessThanOrEqual(r.Max)
}

func (r Range) String() string { return "[" + r.Min.String() + ", " + r.Max.String() + "]" }

// Rule is one named pattern of a cascade. The first capture group (or the
// whole match when the pattern has none) holds the number. Scale multiplies
// the parsed number, e.g. 10 to turn a per-gram price into per-10g, and the
// range applies to the scaled value.
type Rule struct {
	Name     string
	Priority int
	Pattern  *regexp.Regexp
	Range    Range
	Scale    decimal.Decimal
}

// KeywordScan is the last resort: any number within Window bytes of one of
// Keywords that lands in Range.
type KeywordScan struct {
	Keywords []string
	Window   int
	Range    Range
	Scale    decimal.Decimal
}

// Cascade is the full extraction configuration for one source.
type Cascade struct {
	Rules    []Rule
	Fallback *KeywordScan
}

// Match is an accepted value.
type Match struct {
	Value  decimal.Decimal // scaled
	Parsed decimal.Decimal // as it appeared
	Rule   string
	Raw    string
}

const keywordRuleName = "keyword_scan"

// Extract runs the cascade against text.
func Extract(text string, c Cascade) (Match, error) {
	text = normalizeText(text)
	rules := make([]Rule, len(c.Rules))
	copy(rules, c.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	sawNumber := false
	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}
		for _, sub := range r.Pattern.FindAllStringSubmatch(text, -1) {
			raw := sub[0]
			if len(sub) > 1 {
				raw = sub[1]
			}
			parsed, err := NormalizeNumber(raw)
			if err != nil {
				continue
			}
			sawNumber = true
			v := parsed.Mul(scaleOrOne(r.Scale))
			if r.Range.Contains(v) {
				return Match{Value: v, Parsed: parsed, Rule: r.Name, Raw: raw}, nil
			}
		}
	}

	if c.Fallback != nil {
		m, found, err := c.Fallback.scan(text)
		if err == nil {
			return m, nil
		}
		sawNumber = sawNumber || found
	}

	if sawNumber {
		return Match{}, ErrOutOfRange
	}
	return Match{}, ErrNotFound
}

// scan reports whether any keyword-adjacent number was seen at all.
func (k *KeywordScan) scan(text string) (Match, bool, error) {
	lower := strings.ToLower(text)
	var spans [][]int
	for _, kw := range k.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		for off := 0; ; {
			i := strings.Index(lower[off:], kw)
			if i < 0 {
				break
			}
			spans = append(spans, []int{off + i, off + i + len(kw)})
			off += i + len(kw)
		}
	}
	if len(spans) == 0 {
		return Match{}, false, ErrNotFound
	}

	found := false
	for _, loc := range numberToken.FindAllStringIndex(lower, -1) {
		if !nearAny(loc, spans, k.Window) {
			continue
		}
		raw := lower[loc[0]:loc[1]]
		parsed, err := NormalizeNumber(raw)
		if err != nil {
			continue
		}
		found = true
		v := parsed.Mul(scaleOrOne(k.Scale))
		if k.Range.Contains(v) {
			return Match{Value: v, Parsed: parsed, Rule: keywordRuleName, Raw: raw}, true, nil
		}
	}
	return Match{}, found, ErrNotFound
}

func nearAny(loc []int, spans [][]int, window int) bool {
	for _, s := range spans {
		var gap int
		switch {
		case s[1] <= loc[0]:
			gap = loc[0] - s[1]
		case loc[1] <= s[0]:
			gap = s[0] - loc[1]
		default:
			gap = 0
		}
		if gap <= window {
			return true
		}
	}
	return false
}

func scaleOrOne(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d
}
