// Package llm defines the JSON contract between model-based engines and the
// pipeline: the expected document shape, its schema, prompts and the
// clean-up applied to model output before validation.
package llm

// FieldValue is one field as returned by a model. Confidence is 0..1.
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// LineItem is one invoice line as printed.
type LineItem struct {
	Description  string `json:"description"`
	Quantity     string `json:"quantity,omitempty"`
	UnitNetPrice string `json:"unit_net_price,omitempty"`
	TaxRate      string `json:"tax_rate,omitempty"`
	NetAmount    string `json:"net_amount,omitempty"`
	TaxAmount    string `json:"tax_amount,omitempty"`
	GrossAmount  string `json:"gross_amount,omitempty"`
}

// InvoiceDocument is the normalized shape we want from a model.
type InvoiceDocument struct {
	Fields     map[string]FieldValue `json:"fields"`
	LineItems  []LineItem            `json:"line_items,omitempty"`
	Confidence float64               `json:"confidence"` // 0..1
	RawText    string                `json:"raw_text,omitempty"`
}
