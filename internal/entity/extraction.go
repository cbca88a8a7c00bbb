package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// FieldState is the verdict of the country rules on a single field.
type FieldState string

const (
	FieldUnchecked FieldState = ""
	FieldValid     FieldState = "valid"
	FieldInvalid   FieldState = "invalid"
	FieldMissing   FieldState = "missing"
)

// Candidate is one extracted value and the confidence (0..100) attached to it.
type Candidate struct {
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	State      FieldState `json:"state,omitempty"`
}

// LineCandidate is one invoice line as read by an engine. Amounts are raw text
// until the rules normalize them into plain decimal strings.
type LineCandidate struct {
	Description  string `json:"description"`
	Quantity     string `json:"quantity,omitempty"`
	UnitNetPrice string `json:"unit_net_price,omitempty"`
	TaxRate      string `json:"tax_rate,omitempty"`
	NetAmount    string `json:"net_amount,omitempty"`
	TaxAmount    string `json:"tax_amount,omitempty"`
	GrossAmount  string `json:"gross_amount,omitempty"`
}

// Adjustment records one confidence change made by a rule. Field is empty for
// document-level penalties.
type Adjustment struct {
	Field  string  `json:"field,omitempty"`
	Rule   string  `json:"rule"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason,omitempty"`
}

// Extraction is one immutable attempt at reading a document.
type Extraction struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	Attempt       int       `json:"attempt"`
	EngineID      string    `json:"engine_id"`
	EngineVersion string    `json:"engine_version"`
	RawText       string    `json:"raw_text,omitempty"`

	// RawFields and RawLines are what the engine returned; rules never modify them.
	RawFields map[string]Candidate `json:"raw_fields,omitempty"`
	RawLines  []LineCandidate      `json:"raw_lines,omitempty"`

	// Fields and Lines are the refined values derived from the raw ones.
	Fields map[string]Candidate `json:"fields,omitempty"`
	Lines  []LineCandidate      `json:"lines,omitempty"`

	EngineConfidence  float64             `json:"engine_confidence"`
	OverallConfidence float64             `json:"overall_confidence"`
	FieldConfidence   map[string]float64  `json:"field_confidence,omitempty"`
	Adjustments       []Adjustment        `json:"adjustments,omitempty"`
	Mandatory         []string            `json:"mandatory,omitempty"`
	Ruleset           string              `json:"ruleset,omitempty"`
	BuyerKind         constants.BuyerKind `json:"buyer_kind,omitempty"`
	CriticalFailure   bool                `json:"critical_failure"`

	Duration     time.Duration `json:"duration"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Superseded   bool          `json:"superseded"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Value returns the refined value of a field, or "" when absent.
func (e *Extraction) Value(field string) string {
	if c, ok := e.Fields[field]; ok {
		return c.Value
	}
	return ""
}

// Penalty sums the document-level adjustments.
func (e *Extraction) Penalty() float64 {
	var p float64
	for _, a := range e.Adjustments {
		if a.Field == "" && a.Delta < 0 {
			p -= a.Delta
		}
	}
	return p
}

// MandatoryValid reports whether every mandatory field was checked valid.
func (e *Extraction) MandatoryValid() bool {
	for _, f := range e.Mandatory {
		if c, ok := e.Fields[f]; !ok || c.State != FieldValid {
			return false
		}
	}
	return true
}
