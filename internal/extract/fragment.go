package extract

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// Fragment is one numeric token found in a text node, in document order.
type Fragment struct {
	Index   int
	Value   decimal.Decimal
	Raw     string
	Percent bool
	// Node is the text node the token was read from.
	Node *html.Node
}

// Candidate is a fragment positioned relative to the anchor. Distance is
// positive when the fragment precedes the anchor.
type Candidate struct {
	Value    decimal.Decimal
	Raw      string
	Percent  bool
	Distance int
}

var skipText = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// textNodes returns the non-blank visible text nodes under root in document
// order.
func textNodes(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipText[n.Data] {
			return
		}
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// VisibleText returns the visible text under root with one space between
// text nodes, so numbers in neighbouring elements stay separate tokens.
func VisibleText(root *html.Node) string {
	nodes := textNodes(root)
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, strings.TrimSpace(n.Data))
	}
	return strings.Join(parts, " ")
}

// Fragments walks root depth-first and returns every numeric token found in
// visible text nodes, numbered in document order. A token is a percentage
// when the next non-space character is "%", even if it starts the following
// text node.
func Fragments(root *html.Node) []Fragment {
	nodes := textNodes(root)
	var out []Fragment
	for i, n := range nodes {
		next := ""
		if i+1 < len(nodes) {
			next = normalizeText(nodes[i+1].Data)
		}
		out = appendTokens(out, n, next)
	}
	return out
}

func appendTokens(out []Fragment, n *html.Node, next string) []Fragment {
	text := normalizeText(n.Data)
	for _, loc := range numberToken.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		v, err := NormalizeNumber(raw)
		if err != nil {
			continue
		}
		rest := strings.TrimLeftFunc(text[loc[1]:], unicode.IsSpace)
		if rest == "" {
			rest = strings.TrimLeftFunc(next, unicode.IsSpace)
		}
		out = append(out, Fragment{
			Index:   len(out),
			Value:   v,
			Raw:     raw,
			Percent: strings.HasPrefix(rest, "%"),
			Node:    n,
		})
	}
	return out
}

// AnchorIndex returns the position of the first fragment equal to anchor,
// or -1.
func AnchorIndex(frags []Fragment, anchor decimal.Decimal) int {
	return AnchorIndexWithin(frags, anchor, nil)
}

// AnchorIndexWithin is AnchorIndex restricted to fragments read from text
// under scope. A nil scope matches every fragment.
func AnchorIndexWithin(frags []Fragment, anchor decimal.Decimal, scope *html.Node) int {
	for i, f := range frags {
		if !f.Percent && f.Value.Equal(anchor) && within(f.Node, scope) {
			return i
		}
	}
	return -1
}

func within(n, scope *html.Node) bool {
	if scope == nil {
		return true
	}
	for p := n; p != nil; p = p.Parent {
		if p == scope {
			return true
		}
	}
	return false
}

// Candidates converts fragments into candidates around the anchor at
// anchorIdx. The anchor itself is excluded.
func Candidates(frags []Fragment, anchorIdx int) []Candidate {
	out := make([]Candidate, 0, len(frags))
	for i, f := range frags {
		if i == anchorIdx {
			continue
		}
		out = append(out, Candidate{
			Value:    f.Value,
			Raw:      f.Raw,
			Percent:  f.Percent,
			Distance: anchorIdx - i,
		})
	}
	return out
}
