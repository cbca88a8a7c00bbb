package llm

import (
	"encoding/json"
	"strings"
)

// BuildSystemPrompt composes the instructions for reading one invoice.
func BuildSystemPrompt(localeHint string) string {
	schema, _ := json.Marshal(BuildInvoiceJSONSchema())
	parts := []string{
		"You read scanned or digital VAT invoices. Return ONLY JSON that matches the provided JSON Schema.",
		"Copy every value exactly as printed: keep the original date format, thousands separators, decimal commas and currency symbols.",
		"Do not compute, correct or infer values that are not printed.",
		"seller_tax_id and buyer_tax_id are tax identifiers (NIP for Polish companies, PESEL for individuals), printed next to the party.",
		"net_total, tax_total and gross_total are the invoice summary amounts; line_items lists the table rows.",
		"For each field give a confidence between 0 and 1 describing how legible and unambiguous it is, and an overall confidence for the document.",
		"Omit fields that are not present. Never output null.",
		"Schema: " + string(schema),
	}
	if l := strings.TrimSpace(localeHint); l != "" {
		parts = append(parts, "The document locale is probably "+l+".")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint.
func BuildUserPrompt(filename string) string {
	var b strings.Builder
	if f := strings.TrimSpace(filename); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("Extract the invoice fields from the attached document.")
	return b.String()
}
