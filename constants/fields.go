package constants

// Field names produced by engines and consumed by the rules, scorer and materializer.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldIssueDate     = "issue_date"
	FieldSaleDate      = "sale_date"
	FieldDueDate       = "due_date"
	FieldSellerName    = "seller_name"
	FieldSellerTaxID   = "seller_tax_id"
	FieldBuyerName     = "buyer_name"
	FieldBuyerTaxID    = "buyer_tax_id"
	FieldCurrency      = "currency"
	FieldNetTotal      = "net_total"
	FieldTaxTotal      = "tax_total"
	FieldGrossTotal    = "gross_total"
	FieldTaxRate       = "tax_rate"
)

// KnownFields is every field a correction may target.
var KnownFields = []string{
	FieldInvoiceNumber,
	FieldIssueDate,
	FieldSaleDate,
	FieldDueDate,
	FieldSellerName,
	FieldSellerTaxID,
	FieldBuyerName,
	FieldBuyerTaxID,
	FieldCurrency,
	FieldNetTotal,
	FieldTaxTotal,
	FieldGrossTotal,
	FieldTaxRate,
}

// CriticalFields weigh most in scoring; failing any of them blocks auto-accept.
var CriticalFields = []string{FieldInvoiceNumber, FieldSellerTaxID, FieldGrossTotal}

// IsKnownField reports whether name is one of KnownFields.
func IsKnownField(name string) bool {
	for _, f := range KnownFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsCritical reports whether name is one of CriticalFields.
func IsCritical(name string) bool {
	for _, f := range CriticalFields {
		if f == name {
			return true
		}
	}
	return false
}

// BuyerKind tells which validation ruleset applies to the buyer side.
type BuyerKind string

const (
	BuyerUnknown    BuyerKind = "unknown"
	BuyerBusiness   BuyerKind = "business"
	BuyerIndividual BuyerKind = "individual"
)

// Engine identifiers.
const (
	EngineTesseract = "tesseract"
	EngineGemini    = "gemini"
	EngineFake      = "fake"
	EngineManual    = "manual"
)
