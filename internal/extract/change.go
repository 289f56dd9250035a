package extract

import (
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// MatchConfig tunes MatchChange. The defaults were chosen empirically.
type MatchConfig struct {
	// Tolerance is the largest accepted gap, in percentage points, between
	// a percent fragment and the percentage implied by a change fragment.
	Tolerance decimal.Decimal
	// MaxChangeRatio discards change fragments whose magnitude is at least
	// this fraction of the anchor.
	MaxChangeRatio decimal.Decimal
	WindowSize     int
	Windows        int
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Tolerance:      decimal.RequireFromString("0.1"),
		MaxChangeRatio: decimal.RequireFromString("0.1"),
		WindowSize:     5,
		Windows:        2,
	}
}

var hundred = decimal.NewFromInt(100)

// MatchChange recovers the (change, percent) pair for anchor from nearby
// fragments. Only fragments preceding the anchor are considered, closest
// first, in consecutive windows. Within a window the first change fragment
// that has a percent fragment agreeing with change/anchor*100 wins. Both
// members of the pair must come from the same window. ok is false, and the
// pair zero, when nothing agrees.
func MatchChange(anchor decimal.Decimal, candidates []Candidate, cfg MatchConfig) (change, percent decimal.Decimal, ok bool) {
	if anchor.IsZero() || cfg.WindowSize <= 0 {
		return decimal.Zero, decimal.Zero, false
	}

	preceding := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance > 0 {
			preceding = append(preceding, c)
		}
	}
	sort.SliceStable(preceding, func(i, j int) bool { return preceding[i].Distance < preceding[j].Distance })

	limit := anchor.Abs().Mul(cfg.MaxChangeRatio)
	for w := 0; w < cfg.Windows; w++ {
		start := w * cfg.WindowSize
		if start >= len(preceding) {
			break
		}
		window := preceding[start:min(start+cfg.WindowSize, len(preceding))]

		for _, c := range window {
			if c.Percent || c.Value.Abs().GreaterThanOrEqual(limit) {
				continue
			}
			expected := c.Value.Div(anchor).Mul(hundred)
			for _, p := range window {
				if !p.Percent {
					continue
				}
				if p.Value.Sub(expected).Abs().LessThan(cfg.Tolerance) {
					return c.Value, p.Value, true
				}
			}
		}
	}
	return decimal.Zero, decimal.Zero, false
}

// MatchChangeInDocument locates anchor inside scope and runs MatchChange over
// the numeric fragments around it in the whole of root. A nil scope searches
// all of root.
func MatchChangeInDocument(root, scope *html.Node, anchor decimal.Decimal, cfg MatchConfig) (change, percent decimal.Decimal, ok bool) {
	frags := Fragments(root)
	idx := AnchorIndexWithin(frags, anchor, scope)
	if idx < 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return MatchChange(anchor, Candidates(frags, idx), cfg)
}
