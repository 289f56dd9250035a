package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
cascades:
  goodreturns:
    rules:
      - name: per_10g
        priority: 2
        pattern: '₹\s*([\d,]+)\s*per\s*10\s*g'
        min: "40000"
        max: "400000"
      - name: per_gram
        priority: 1
        pattern: '(?i)24\s*karat\s+gold.{0,40}?₹\s*([\d,]+)\s*per\s*gram'
        scale: "10"
        min: "40000"
        max: "400000"
    fallback:
      keywords: [gold, 10g]
      window: 40
      min: "40000"
      max: "400000"
`

func TestLoadCascades(t *testing.T) {
	cascades, err := LoadCascades(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Contains(t, cascades, "goodreturns")

	c := cascades["goodreturns"]
	require.Len(t, c.Rules, 2)
	require.NotNil(t, c.Fallback)
	assert.Equal(t, 40, c.Fallback.Window)

	m, err := Extract("24 Karat Gold (999 purity) : ₹13,014 per gram", c)
	require.NoError(t, err)
	assert.Equal(t, "per_gram", m.Rule)
	assert.True(t, m.Value.Equal(dec("130140")))
}

func TestLoadCascades_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ``},
		{"no cascades", "cascades: {}\n"},
		{"missing pattern", `
cascades:
  x:
    rules:
      - name: r
        min: "1"
        max: "2"
`},
		{"bad regex", `
cascades:
  x:
    rules:
      - name: r
        pattern: '([0-9]'
        min: "1"
        max: "2"
`},
		{"inverted range", `
cascades:
  x:
    rules:
      - name: r
        pattern: '\d+'
        min: "5"
        max: "2"
`},
		{"non numeric scale", `
cascades:
  x:
    rules:
      - name: r
        pattern: '\d+'
        scale: ten
        min: "1"
        max: "2"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCascades(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}
