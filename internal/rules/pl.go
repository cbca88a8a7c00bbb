package rules

import (
	"regexp"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// Polish is the ruleset for invoices issued under Polish VAT law.
type Polish struct{}

var (
	rePolishText    = regexp.MustCompile(`(?i)\bNIP\b|zł|\bPLN\b|faktura\s+vat|sprzedawca|nabywca`)
	rePolishNumber  = regexp.MustCompile(`(?i)^(FV|FA|FS|F|FK|KOR)?[\s/-]*[A-Z0-9]*\d+[/-]\d{1,4}([/-][A-Z0-9]+)*$`)
	reNumberPrefix  = regexp.MustCompile(`(?i)^(faktura(\s+vat)?|nr\.?|numer|no\.?)\s*[:#]?\s*`)
	reNumberAllowed = regexp.MustCompile(`^[\p{L}\d/._\- ]+$`)
	reQuantity      = regexp.MustCompile(`^-?\d+(?:[.,]\d+)?`)
)

func (Polish) Country() string { return "PL" }

func (Polish) Detect(text string) bool { return rePolishText.MatchString(text) }

func (Polish) Refine(r *Refinement) {
	if c, ok := r.Candidate(constants.FieldInvoiceNumber); ok {
		num := NormalizeInvoiceNumber(c.Value)
		if num == "" || !reNumberAllowed.MatchString(num) {
			r.Reject(constants.FieldInvoiceNumber, c.Value, c.Confidence, "pl.invoice_number", "not an invoice number")
		} else {
			r.Accept(constants.FieldInvoiceNumber, num, c.Confidence, "pl.invoice_number", rePolishNumber.MatchString(num))
		}
	}

	for _, f := range []string{constants.FieldIssueDate, constants.FieldSaleDate, constants.FieldDueDate} {
		refineDate(r, f, "pl.date")
	}

	inferred := refineAmounts(r, true, "pl.amount")
	refineCurrency(r, inferred, "PLN", "pl.currency")
	refineTaxRate(r, "pl.tax_rate")

	kind := constants.BuyerUnknown
	if c, ok := r.Candidate(constants.FieldSellerTaxID); ok {
		if digits, valid := NormalizeNIP(c.Value); valid {
			r.Accept(constants.FieldSellerTaxID, digits, c.Confidence, "pl.nip", true)
		} else {
			r.Reject(constants.FieldSellerTaxID, c.Value, c.Confidence, "pl.nip", "NIP checksum failed")
			r.CriticalFailure = true
		}
	}
	if c, ok := r.Candidate(constants.FieldBuyerTaxID); ok {
		if digits, valid := NormalizeNIP(c.Value); valid {
			r.Accept(constants.FieldBuyerTaxID, digits, c.Confidence, "pl.nip", true)
			kind = constants.BuyerBusiness
		} else if digits, valid := NormalizePESEL(c.Value); valid {
			r.Accept(constants.FieldBuyerTaxID, digits, c.Confidence, "pl.pesel", true)
			kind = constants.BuyerIndividual
		} else {
			r.Reject(constants.FieldBuyerTaxID, c.Value, c.Confidence, "pl.nip", "neither a valid NIP nor PESEL")
			r.CriticalFailure = true
			kind = constants.BuyerBusiness
		}
	}

	sellerName, _ := refineName(r, constants.FieldSellerName, "pl.legal_suffix")
	buyerName, buyerSuffix := refineName(r, constants.FieldBuyerName, "pl.legal_suffix")
	if sellerName != "" && strings.EqualFold(sellerName, buyerName) {
		c := r.Fields[constants.FieldBuyerName]
		r.Reject(constants.FieldBuyerName, c.Value, c.Confidence, "pl.parties", "buyer equals seller")
	}

	if kind == constants.BuyerUnknown {
		switch {
		case buyerSuffix != "":
			kind = constants.BuyerBusiness
		case buyerName != "":
			kind = constants.BuyerIndividual
		}
	}
	r.BuyerKind = kind

	r.Mandatory = []string{
		constants.FieldInvoiceNumber,
		constants.FieldIssueDate,
		constants.FieldSellerName,
		constants.FieldSellerTaxID,
		constants.FieldBuyerName,
		constants.FieldNetTotal,
		constants.FieldTaxTotal,
		constants.FieldGrossTotal,
	}
	if kind == constants.BuyerBusiness {
		r.Mandatory = append(r.Mandatory, constants.FieldBuyerTaxID)
	}

	r.Lines = refineLines(r.RawLines, true)
}

// NormalizeInvoiceNumber strips labels and collapses whitespace.
func NormalizeInvoiceNumber(s string) string {
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	for {
		trimmed := strings.TrimSpace(reNumberPrefix.ReplaceAllString(s, ""))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.ToUpper(s)
}

func refineDate(r *Refinement, field, rule string) {
	c, ok := r.Candidate(field)
	if !ok {
		return
	}
	if t, ok := ParseDate(c.Value); ok {
		r.Accept(field, t.Format(ISODate), c.Confidence, rule, true)
		return
	}
	r.Reject(field, c.Value, c.Confidence, rule, "unrecognized date")
}

// refineAmounts normalizes the money fields and returns the currency implied
// by their notation.
func refineAmounts(r *Refinement, decimalComma bool, rule string) string {
	inferred := ""
	for _, f := range []string{constants.FieldNetTotal, constants.FieldTaxTotal, constants.FieldGrossTotal} {
		c, ok := r.Candidate(f)
		if !ok {
			continue
		}
		a, err := ParseAmount(c.Value, decimalComma)
		if err != nil {
			r.Reject(f, c.Value, c.Confidence, rule, "unrecognized amount")
			continue
		}
		r.Accept(f, FormatAmount(a.Value), c.Confidence, rule, a.Localized)
		if inferred == "" {
			inferred = a.Currency
		}
	}
	return inferred
}

var reISOCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

func refineCurrency(r *Refinement, inferred, fallback, rule string) {
	if c, ok := r.Candidate(constants.FieldCurrency); ok {
		if a, err := ParseAmount("0 "+c.Value, true); err == nil && a.Currency != "" {
			r.Accept(constants.FieldCurrency, a.Currency, c.Confidence, rule, a.Currency != strings.ToUpper(c.Value))
			return
		}
		code := strings.ToUpper(c.Value)
		if reISOCurrency.MatchString(code) {
			r.Accept(constants.FieldCurrency, code, c.Confidence, rule, false)
			return
		}
		r.Reject(constants.FieldCurrency, c.Value, c.Confidence, rule, "unknown currency")
		return
	}
	conf := r.Fields[constants.FieldGrossTotal].Confidence
	switch {
	case inferred != "":
		r.Keep(constants.FieldCurrency, entity.Candidate{Value: inferred, Confidence: conf})
	case fallback != "":
		r.Keep(constants.FieldCurrency, entity.Candidate{Value: fallback, Confidence: conf / 2})
	}
}

func refineTaxRate(r *Refinement, rule string) {
	c, ok := r.Candidate(constants.FieldTaxRate)
	if !ok {
		return
	}
	if rate, ok := ParseTaxRate(c.Value); ok {
		r.Accept(constants.FieldTaxRate, rate, c.Confidence, rule, true)
		return
	}
	r.Reject(constants.FieldTaxRate, c.Value, c.Confidence, rule, "unrecognized tax rate")
}

// refineName returns the normalized name and its legal suffix.
func refineName(r *Refinement, field, rule string) (string, string) {
	c, ok := r.Candidate(field)
	if !ok {
		return "", ""
	}
	name, suffix := NormalizeCompanyName(c.Value)
	if name == "" {
		r.Reject(field, c.Value, c.Confidence, rule, "empty name")
		return "", ""
	}
	r.Accept(field, name, c.Confidence, rule, suffix != "")
	return name, suffix
}

// refineLines normalizes the numeric columns of each line. Values that do not
// parse are kept verbatim for the materializer to reject.
func refineLines(lines []entity.LineCandidate, decimalComma bool) []entity.LineCandidate {
	if len(lines) == 0 {
		return nil
	}
	out := make([]entity.LineCandidate, len(lines))
	for i, l := range lines {
		l.Description = strings.TrimSpace(reSpaces.ReplaceAllString(l.Description, " "))
		if q := reQuantity.FindString(strings.TrimSpace(l.Quantity)); q != "" {
			l.Quantity = strings.ReplaceAll(q, ",", ".")
		}
		for _, p := range []*string{&l.UnitNetPrice, &l.NetAmount, &l.TaxAmount, &l.GrossAmount} {
			if *p == "" {
				continue
			}
			if a, err := ParseAmount(*p, decimalComma); err == nil {
				*p = FormatAmount(a.Value)
			}
		}
		if l.TaxRate != "" {
			if rate, ok := ParseTaxRate(l.TaxRate); ok {
				l.TaxRate = rate
			}
		}
		out[i] = l
	}
	return out
}
