// Package rules refines raw engine candidates with country-specific
// knowledge and adjusts their confidence.
package rules

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// Options hold the adjustment policy.
type Options struct {
	FieldBonus      float64
	DocumentPenalty float64
	DefaultCountry  string
}

var DefaultOptions = Options{FieldBonus: 5, DocumentPenalty: 15, DefaultCountry: "PL"}

// Ruleset refines one country's invoices.
type Ruleset interface {
	Country() string
	// Detect reports whether raw text looks like this country's invoice.
	Detect(text string) bool
	Refine(r *Refinement)
}

// Refinement is the working state of one enhancement. Rulesets read Raw and
// RawLines and fill the rest.
type Refinement struct {
	Raw      map[string]entity.Candidate
	RawLines []entity.LineCandidate
	RawText  string

	Fields          map[string]entity.Candidate
	Lines           []entity.LineCandidate
	Adjustments     []entity.Adjustment
	Mandatory       []string
	BuyerKind       constants.BuyerKind
	CriticalFailure bool

	opts Options
}

// Candidate returns the trimmed raw candidate for field.
func (r *Refinement) Candidate(field string) (entity.Candidate, bool) {
	c, ok := r.Raw[field]
	if !ok {
		return entity.Candidate{}, false
	}
	c.Value = strings.TrimSpace(c.Value)
	if c.Value == "" {
		return entity.Candidate{}, false
	}
	c.Confidence = clamp(c.Confidence)
	c.State = entity.FieldUnchecked
	return c, true
}

// Accept stores a checked value. matched grants the field bonus.
func (r *Refinement) Accept(field, value string, conf float64, rule string, matched bool) {
	if matched && r.opts.FieldBonus != 0 {
		bumped := clamp(conf + r.opts.FieldBonus)
		if bumped != conf {
			r.Adjustments = append(r.Adjustments, entity.Adjustment{Field: field, Rule: rule, Delta: round2(bumped - conf)})
		}
		conf = bumped
	}
	r.Fields[field] = entity.Candidate{Value: value, Confidence: conf, State: entity.FieldValid}
}

// Reject stores a value that failed its check with zero confidence.
func (r *Refinement) Reject(field, value string, conf float64, rule, reason string) {
	if conf > 0 {
		r.Adjustments = append(r.Adjustments, entity.Adjustment{Field: field, Rule: rule, Delta: -conf, Reason: reason})
	}
	r.Fields[field] = entity.Candidate{Value: value, Confidence: 0, State: entity.FieldInvalid}
}

// Keep stores a value no rule applies to.
func (r *Refinement) Keep(field string, c entity.Candidate) {
	c.State = entity.FieldValid
	r.Fields[field] = c
}

func (r *Refinement) penalize(rule, reason string) {
	if r.opts.DocumentPenalty == 0 {
		return
	}
	r.Adjustments = append(r.Adjustments, entity.Adjustment{Rule: rule, Delta: -r.opts.DocumentPenalty, Reason: reason})
}

// Enhancer selects a ruleset per document and applies it. It never mutates its
// input and reads only the raw candidates, so enhancing an enhanced result
// yields the same result.
type Enhancer struct {
	rulesets map[string]Ruleset
	fallback Ruleset
	opts     Options
	logger   *slog.Logger
}

func NewEnhancer(opts Options, logger *slog.Logger, rulesets ...Ruleset) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enhancer{rulesets: map[string]Ruleset{}, fallback: Generic{}, opts: opts, logger: logger}
	for _, rs := range rulesets {
		e.rulesets[strings.ToUpper(rs.Country())] = rs
	}
	return e
}

// NewDefaultEnhancer registers every built-in ruleset.
func NewDefaultEnhancer(opts Options, logger *slog.Logger) *Enhancer {
	return NewEnhancer(opts, logger, Polish{})
}

var reLocale = regexp.MustCompile(`^([A-Za-z]{2})(?:[-_]([A-Za-z]{2}))?$`)

// Select picks the ruleset for a locale hint such as "pl", "pl-PL" or "PL",
// falling back to text detection, then the default country.
func (e *Enhancer) Select(localeHint, text string) Ruleset {
	if m := reLocale.FindStringSubmatch(strings.TrimSpace(localeHint)); m != nil {
		for _, code := range []string{m[2], m[1]} {
			if rs, ok := e.rulesets[strings.ToUpper(code)]; ok {
				return rs
			}
		}
	}
	countries := make([]string, 0, len(e.rulesets))
	for c := range e.rulesets {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	for _, c := range countries {
		if e.rulesets[c].Detect(text) {
			return e.rulesets[c]
		}
	}
	if localeHint == "" {
		if rs, ok := e.rulesets[strings.ToUpper(e.opts.DefaultCountry)]; ok {
			return rs
		}
	}
	return e.fallback
}

// Enhance returns a refined copy of ext.
func (e *Enhancer) Enhance(ext *entity.Extraction, localeHint string) *entity.Extraction {
	out := *ext
	rs := e.Select(localeHint, ext.RawText)

	r := &Refinement{
		Raw:       ext.RawFields,
		RawLines:  ext.RawLines,
		RawText:   ext.RawText,
		Fields:    map[string]entity.Candidate{},
		BuyerKind: constants.BuyerUnknown,
		opts:      e.opts,
	}
	rs.Refine(r)

	mandatory := append([]string(nil), r.Mandatory...)
	sort.Strings(mandatory)
	for _, f := range mandatory {
		c, ok := r.Fields[f]
		switch {
		case !ok || c.State == entity.FieldMissing:
			r.Fields[f] = entity.Candidate{State: entity.FieldMissing}
			r.penalize("mandatory", fmt.Sprintf("%s missing", f))
		case c.State == entity.FieldInvalid:
			r.penalize("mandatory", fmt.Sprintf("%s invalid", f))
		default:
			continue
		}
		if constants.IsCritical(f) {
			r.CriticalFailure = true
		}
	}

	out.Fields = r.Fields
	out.Lines = r.Lines
	out.Adjustments = r.Adjustments
	out.Mandatory = mandatory
	out.BuyerKind = r.BuyerKind
	out.CriticalFailure = r.CriticalFailure
	out.Ruleset = rs.Country()

	e.logger.Debug("extraction enhanced",
		"document_id", ext.DocumentID,
		"ruleset", out.Ruleset,
		"buyer_kind", out.BuyerKind,
		"adjustments", len(out.Adjustments),
		"critical_failure", out.CriticalFailure,
	)
	return &out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
