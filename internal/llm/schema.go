package llm

import (
	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the response contract and used locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	fields := map[string]any{}
	for _, f := range constants.KnownFields {
		fields[f] = fieldProp()
	}
	line := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description":    map[string]any{"type": "string"},
			"quantity":       map[string]any{"type": "string"},
			"unit_net_price": map[string]any{"type": "string"},
			"tax_rate":       map[string]any{"type": "string"},
			"net_amount":     map[string]any{"type": "string"},
			"tax_amount":     map[string]any{"type": "string"},
			"gross_amount":   map[string]any{"type": "string"},
		},
		"required": []string{"description"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"fields": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           fields,
			},
			"line_items": map[string]any{"type": "array", "items": line},
			"confidence": confidenceProp(),
			"raw_text":   map[string]any{"type": "string"},
		},
		"required": []string{"fields", "confidence"},
	}
}

// BuildCorrectionJSONSchema constrains a reviewer's corrections: known field
// names mapped to non-empty printed values.
func BuildCorrectionJSONSchema() map[string]any {
	return map[string]any{
		"type":          "object",
		"minProperties": 1,
		"propertyNames": map[string]any{"enum": constants.KnownFields},
		"additionalProperties": map[string]any{
			"type":      "string",
			"minLength": 1,
			"maxLength": 256,
		},
	}
}

func fieldProp() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"value":      map[string]any{"type": "string", "minLength": 1},
			"confidence": confidenceProp(),
		},
		"required": []string{"value"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
