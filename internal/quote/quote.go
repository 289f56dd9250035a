package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
)

// DayFormat is the layout of the day bucket column.
const DayFormat = "2006-01-02"

// Family groups instruments that share a table.
type Family string

const (
	FamilyGold    Family = "gold"
	FamilyMarket  Family = "market"
	FamilyCrypto  Family = "crypto"
	FamilyFutures Family = "futures"
)

var familyTables = map[Family]string{
	FamilyGold:    "gold_prices",
	FamilyMarket:  "market_quotes",
	FamilyCrypto:  "crypto_prices",
	FamilyFutures: "futures_prices",
}

// Table returns the table backing f. Only known families resolve, so the
// result is safe to interpolate into SQL.
func (f Family) Table() (string, error) {
	t, ok := familyTables[f]
	if !ok {
		return "", fmt.Errorf("unknown family %q", f)
	}
	return t, nil
}

// Instrument is one tracked entity.
type Instrument struct {
	Key    string        `json:"key"`
	Name   string        `json:"name"`
	Family Family        `json:"family"`
	Unit   string        `json:"unit"`
	Range  extract.Range `json:"-"`
}

// Quote is the stored observation of an entity for one day. Change and
// PercentChange are derived from the previous stored day whenever one exists.
type Quote struct {
	ID            int64           `json:"id"`
	EntityKey     string          `json:"entityKey"`
	Day           string          `json:"day"`
	Value         decimal.Decimal `json:"value"`
	Change        decimal.Decimal `json:"change"`
	PercentChange decimal.Decimal `json:"percentChange"`
	Source        string          `json:"source"`
	ObservedAt    time.Time       `json:"observedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

var hundred = decimal.NewFromInt(100)

// derive computes the day-over-day change of value against prev.
func derive(value, prev decimal.Decimal) (change, percent decimal.Decimal) {
	change = value.Sub(prev)
	if prev.IsZero() {
		return change, decimal.Zero
	}
	return change, change.Div(prev).Mul(hundred).Round(4)
}
