package extract

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout of a rule catalog:
//
//	cascades:
//	  GOLD_24K_10G:
//	    rules:
//	      - name: per_gram
//	        priority: 1
//	        pattern: '24\s*karat[^₹]{0,40}₹\s*([\d,]+)\s*per\s*gram'
//	        scale: "10"
//	        min: "40000"
//	        max: "400000"
//	    fallback:
//	      keywords: [gold, 10g]
//	      window: 60
//	      min: "40000"
//	      max: "400000"
type catalogFile struct {
	Cascades map[string]cascadeSpec `yaml:"cascades" validate:"required,min=1,dive"`
}

type cascadeSpec struct {
	Rules    []ruleSpec    `yaml:"rules" validate:"required_without=Fallback,dive"`
	Fallback *fallbackSpec `yaml:"fallback" validate:"omitempty"`
}

type ruleSpec struct {
	Name     string `yaml:"name" validate:"required"`
	Priority int    `yaml:"priority" validate:"gte=0"`
	Pattern  string `yaml:"pattern" validate:"required"`
	Scale    string `yaml:"scale" validate:"omitempty,numeric"`
	Min      string `yaml:"min" validate:"required,numeric"`
	Max      string `yaml:"max" validate:"required,numeric"`
}

type fallbackSpec struct {
	Keywords []string `yaml:"keywords" validate:"required,min=1,dive,required"`
	Window   int      `yaml:"window" validate:"gt=0"`
	Scale    string   `yaml:"scale" validate:"omitempty,numeric"`
	Min      string   `yaml:"min" validate:"required,numeric"`
	Max      string   `yaml:"max" validate:"required,numeric"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadCascades reads a YAML rule catalog keyed by source name.
func LoadCascades(r io.Reader) (map[string]Cascade, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode rule catalog: empty document")
		}
		return nil, fmt.Errorf("decode rule catalog: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("validate rule catalog: %w", err)
	}

	out := make(map[string]Cascade, len(f.Cascades))
	for key, spec := range f.Cascades {
		c, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("cascade %s: %w", key, err)
		}
		out[key] = c
	}
	return out, nil
}

func (s cascadeSpec) build() (Cascade, error) {
	var c Cascade
	for _, rs := range s.Rules {
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return Cascade{}, fmt.Errorf("rule %s: %w", rs.Name, err)
		}
		rng, err := parseRange(rs.Min, rs.Max)
		if err != nil {
			return Cascade{}, fmt.Errorf("rule %s: %w", rs.Name, err)
		}
		c.Rules = append(c.Rules, Rule{
			Name:     rs.Name,
			Priority: rs.Priority,
			Pattern:  re,
			Range:    rng,
			Scale:    parseScale(rs.Scale),
		})
	}
	if s.Fallback != nil {
		rng, err := parseRange(s.Fallback.Min, s.Fallback.Max)
		if err != nil {
			return Cascade{}, fmt.Errorf("fallback: %w", err)
		}
		c.Fallback = &KeywordScan{
			Keywords: s.Fallback.Keywords,
			Window:   s.Fallback.Window,
			Range:    rng,
			Scale:    parseScale(s.Fallback.Scale),
		}
	}
	return c, nil
}

func parseRange(lo, hi string) (Range, error) {
	minV, err := decimal.NewFromString(lo)
	if err != nil {
		return Range{}, fmt.Errorf("min: %w", err)
	}
	maxV, err := decimal.NewFromString(hi)
	if err != nil {
		return Range{}, fmt.Errorf("max: %w", err)
	}
	if minV.GreaterThan(maxV) {
		return Range{}, fmt.Errorf("min %s greater than max %s", minV, maxV)
	}
	return Range{Min: minV, Max: maxV}, nil
}

// parseScale input has already been validated as numeric.
func parseScale(s string) decimal.Decimal {
	if s == "" {
		return decimal.NewFromInt(1)
	}
	return decimal.RequireFromString(s)
}
