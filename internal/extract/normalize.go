package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// numberToken matches a signed number with optional thousands separators,
// including Indian lakh grouping (1,30,140).
var numberToken = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)

var minusVariants = strings.NewReplacer(
	"−", "-", // minus sign
	"‒", "-", // figure dash
	"–", "-", // en dash
	"﹣", "-", // small hyphen-minus
)

// Longer symbols first: the replacer prefers earlier arguments at a position.
var numberNoise = strings.NewReplacer(
	"Rs.", "", "Rs", "", "INR", "", "USD", "",
	"₹", "", "$", "", "€", "", "£", "", "¥", "",
	",", "", " ", "", "%", "", "+", "", "(", "", ")", "",
)

// NormalizeNumber parses a raw numeric token as it appears on a quote page.
// It accepts full-width digits, Unicode minus variants, currency symbols,
// parentheses and thousands separators.
func NormalizeNumber(raw string) (decimal.Decimal, error) {
	s := norm.NFKC.String(raw)
	s = minusVariants.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = numberNoise.Replace(s)
	if s == "" || s == "-" || s == "." {
		return decimal.Zero, fmt.Errorf("parse number %q: empty", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return d, nil
}

// normalizeText prepares a whole document for token scanning.
func normalizeText(text string) string {
	return minusVariants.Replace(norm.NFKC.String(text))
}
