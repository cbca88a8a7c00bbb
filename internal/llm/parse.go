package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var ErrNoJSON = errors.New("no JSON object found in response")

var (
	invoiceValidatorOnce sync.Once
	invoiceValidator     *Validator
	invoiceValidatorErr  error
)

func invoiceSchema() (*Validator, error) {
	invoiceValidatorOnce.Do(func() {
		invoiceValidator, invoiceValidatorErr = NewValidator(BuildInvoiceJSONSchema())
	})
	return invoiceValidator, invoiceValidatorErr
}

// ExtractJSONObject strips markdown fences and surrounding prose from a model reply.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", ErrNoJSON
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// ParseInvoiceJSON sanitizes a model reply, validates it against the invoice
// schema and decodes it. The sanitized JSON is returned for auditing.
func ParseInvoiceJSON(text string, logger *slog.Logger) (InvoiceDocument, []byte, error) {
	var doc InvoiceDocument
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return doc, nil, err
	}
	clean, _, err := NormalizeAndSanitizeJSON([]byte(raw), logger)
	if err != nil {
		return doc, nil, err
	}
	v, err := invoiceSchema()
	if err != nil {
		return doc, nil, err
	}
	if err := v.Validate(clean); err != nil {
		return doc, clean, err
	}
	if err := json.Unmarshal(clean, &doc); err != nil {
		return doc, clean, fmt.Errorf("decode invoice: %w", err)
	}
	return doc, clean, nil
}
