package rules

import (
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Generic applies locale-neutral checks when no country ruleset matches.
// Tax identifiers are taken as printed.
type Generic struct{}

func (Generic) Country() string { return "generic" }

func (Generic) Detect(string) bool { return false }

func (Generic) Refine(r *Refinement) {
	if c, ok := r.Candidate(constants.FieldInvoiceNumber); ok {
		r.Accept(constants.FieldInvoiceNumber, NormalizeInvoiceNumber(c.Value), c.Confidence, "generic.invoice_number", false)
	}
	for _, f := range []string{constants.FieldIssueDate, constants.FieldSaleDate, constants.FieldDueDate} {
		refineDate(r, f, "generic.date")
	}
	inferred := refineAmounts(r, false, "generic.amount")
	refineCurrency(r, inferred, "", "generic.currency")
	refineTaxRate(r, "generic.tax_rate")

	for _, f := range []string{constants.FieldSellerTaxID, constants.FieldBuyerTaxID} {
		if c, ok := r.Candidate(f); ok {
			r.Accept(f, strings.ToUpper(strings.Join(strings.Fields(c.Value), "")), c.Confidence, "generic.tax_id", false)
		}
	}
	refineName(r, constants.FieldSellerName, "generic.legal_suffix")
	_, buyerSuffix := refineName(r, constants.FieldBuyerName, "generic.legal_suffix")

	switch {
	case r.Fields[constants.FieldBuyerTaxID].Value != "" || buyerSuffix != "":
		r.BuyerKind = constants.BuyerBusiness
	case r.Fields[constants.FieldBuyerName].Value != "":
		r.BuyerKind = constants.BuyerIndividual
	}

	r.Mandatory = []string{
		constants.FieldInvoiceNumber,
		constants.FieldIssueDate,
		constants.FieldSellerName,
		constants.FieldGrossTotal,
	}
	r.Lines = refineLines(r.RawLines, false)
}
