package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

var lineKeys = []string{"description", "quantity", "unit_net_price", "tax_rate", "net_amount", "tax_amount", "gross_amount"}

// NormalizeAndSanitizeJSON
// - wraps bare field values into {value, confidence}
// - coerces numbers to strings for printed values
// - rescales 0..100 confidences to 0..1
// - drops null/empty values and unknown keys
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)

	if c, ok := confidence(m["confidence"]); ok {
		m["confidence"] = c
	} else if _, present := m["confidence"]; present {
		delete(m, "confidence")
		dropped = append(dropped, "confidence(type)")
	}

	fields, _ := m["fields"].(map[string]any)
	clean := map[string]any{}
	for k, v := range fields {
		if !constants.IsKnownField(k) {
			dropped = append(dropped, k+"(unknown)")
			continue
		}
		var value any
		conf, hasConf := any(nil), false
		switch t := v.(type) {
		case map[string]any:
			value = t["value"]
			if c, ok := confidence(t["confidence"]); ok {
				conf, hasConf = c, true
			}
		default:
			value = t
		}
		s, ok := printed(value)
		if !ok {
			dropped = append(dropped, k+"(empty)")
			continue
		}
		fv := map[string]any{"value": s}
		if hasConf {
			fv["confidence"] = conf
		}
		clean[k] = fv
	}
	if _, present := m["fields"]; present || len(clean) > 0 {
		m["fields"] = clean
	}

	if items, ok := m["line_items"].([]any); ok {
		var out []any
		for _, it := range items {
			row, ok := it.(map[string]any)
			if !ok {
				dropped = append(dropped, "line_items(type)")
				continue
			}
			cleanRow := map[string]any{}
			for _, k := range lineKeys {
				if s, ok := printed(row[k]); ok {
					cleanRow[k] = s
				}
			}
			if _, ok := cleanRow["description"]; !ok {
				cleanRow["description"] = ""
			}
			out = append(out, cleanRow)
		}
		m["line_items"] = out
	} else if _, present := m["line_items"]; present {
		delete(m, "line_items")
		dropped = append(dropped, "line_items(type)")
	}

	if s, ok := m["raw_text"].(string); ok {
		m["raw_text"] = s
	} else if _, present := m["raw_text"]; present {
		delete(m, "raw_text")
	}

	for k := range m {
		switch k {
		case "fields", "line_items", "confidence", "raw_text":
		default:
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm output sanitized", "dropped", dropped)
	}
	return out, dropped, nil
}

// printed turns a model value into the text as printed on the invoice.
func printed(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool, nil:
		return "", false
	default:
		return "", false
	}
	if s == "" || strings.EqualFold(s, "null") {
		return "", false
	}
	return s, true
}

func confidence(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}
