package materialize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
)

// Build turns the refined fields of ext into an invoice for doc. Every check
// failure is collected into one ValidationError.
func Build(doc *entity.Document, ext *entity.Extraction, autoAccept float64, tolerance decimal.Decimal) (*entity.Invoice, error) {
	if ext.ErrorMessage != nil {
		return nil, common.NewValidationError("active extraction failed: " + *ext.ErrorMessage)
	}

	v := common.NewValidator()
	get := func(field string) string {
		c, ok := ext.Fields[field]
		if !ok || c.State == entity.FieldInvalid || c.State == entity.FieldMissing {
			return ""
		}
		return strings.TrimSpace(c.Value)
	}

	inv := &entity.Invoice{
		DocumentID:                 doc.ID,
		OwnerID:                    doc.OwnerID,
		ExtractionID:               ext.ID,
		Number:                     get(constants.FieldInvoiceNumber),
		SellerName:                 get(constants.FieldSellerName),
		SellerTaxID:                get(constants.FieldSellerTaxID),
		BuyerName:                  get(constants.FieldBuyerName),
		BuyerKind:                  ext.BuyerKind,
		Currency:                   get(constants.FieldCurrency),
		Confidence:                 ext.OverallConfidence,
		RequiresManualVerification: ext.OverallConfidence < autoAccept,
	}
	if inv.BuyerKind == "" {
		inv.BuyerKind = constants.BuyerUnknown
	}
	if inv.Currency == "" {
		inv.Currency = "PLN"
	}
	if id := get(constants.FieldBuyerTaxID); id != "" {
		inv.BuyerTaxID = &id
	}

	v.Field(constants.FieldInvoiceNumber, inv.Number, common.Required, common.MaxLen(64))
	v.Field(constants.FieldSellerName, inv.SellerName, common.Required, common.MaxLen(256))
	v.Field(constants.FieldSellerTaxID, inv.SellerTaxID, common.Required)
	v.Field(constants.FieldBuyerName, inv.BuyerName, common.Required, common.MaxLen(256))
	v.Field(constants.FieldCurrency, inv.Currency, common.CurrencyCode)
	if inv.BuyerKind == constants.BuyerBusiness {
		v.Field(constants.FieldBuyerTaxID, inv.BuyerTaxID, common.Required)
	}

	if d, ok := rules.ParseISODate(get(constants.FieldIssueDate)); ok {
		inv.IssueDate = d
	} else {
		v.Field(constants.FieldIssueDate, get(constants.FieldIssueDate), invalid("must be an ISO date"))
	}
	if s := get(constants.FieldSaleDate); s != "" {
		if d, ok := rules.ParseISODate(s); ok {
			inv.SaleDate = &d
		}
	}
	if s := get(constants.FieldDueDate); s != "" {
		if d, ok := rules.ParseISODate(s); ok {
			inv.DueDate = &d
		}
	}

	var totalsOK = true
	for _, t := range []struct {
		field string
		dst   *decimal.Decimal
	}{
		{constants.FieldNetTotal, &inv.NetTotal},
		{constants.FieldTaxTotal, &inv.TaxTotal},
		{constants.FieldGrossTotal, &inv.GrossTotal},
	} {
		d, err := decimal.NewFromString(get(t.field))
		if err != nil {
			v.Field(t.field, get(t.field), invalid("must be a decimal amount"))
			totalsOK = false
			continue
		}
		*t.dst = d.Round(2)
	}
	if totalsOK && !within(inv.NetTotal.Add(inv.TaxTotal), inv.GrossTotal, tolerance) {
		v.Field(constants.FieldGrossTotal, inv.GrossTotal.StringFixed(2),
			invalid(fmt.Sprintf("net %s + tax %s does not match", inv.NetTotal.StringFixed(2), inv.TaxTotal.StringFixed(2))))
	}

	defaultRate := get(constants.FieldTaxRate)
	for i, l := range ext.Lines {
		line, errs := buildLine(i+1, l, defaultRate, tolerance)
		for _, e := range errs {
			v.Field(fmt.Sprintf("lines[%d].%s", i+1, e.field), e.value, invalid(e.msg))
		}
		if len(errs) == 0 {
			inv.Lines = append(inv.Lines, line)
		}
	}
	if len(inv.Lines) > 0 && len(inv.Lines) == len(ext.Lines) && totalsOK {
		sum := decimal.Zero
		for _, l := range inv.Lines {
			sum = sum.Add(l.NetAmount)
		}
		tol := tolerance.Mul(decimal.NewFromInt(int64(len(inv.Lines))))
		if !within(sum, inv.NetTotal, tol) {
			v.Field("lines", sum.StringFixed(2), invalid("line net amounts do not sum to net_total"))
		}
	}

	if err := common.ValidationErrorFrom(v); err != nil {
		return nil, err
	}
	return inv, nil
}

type lineError struct {
	field string
	value string
	msg   string
}

func buildLine(pos int, l entity.LineCandidate, defaultRate string, tolerance decimal.Decimal) (entity.InvoiceLine, []lineError) {
	var errs []lineError
	out := entity.InvoiceLine{Position: pos, Description: strings.TrimSpace(l.Description)}
	if out.Description == "" {
		errs = append(errs, lineError{"description", "", "is required"})
	}

	parse := func(field, s string) (decimal.Decimal, bool) {
		if strings.TrimSpace(s) == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, lineError{field, s, "must be a decimal"})
			return decimal.Zero, false
		}
		return d, true
	}

	qty, hasQty := parse("quantity", l.Quantity)
	if !hasQty {
		qty = decimal.NewFromInt(1)
	}
	if !qty.IsPositive() {
		errs = append(errs, lineError{"quantity", l.Quantity, "must be positive"})
	}
	unit, hasUnit := parse("unit_net_price", l.UnitNetPrice)
	net, hasNet := parse("net_amount", l.NetAmount)
	tax, hasTax := parse("tax_amount", l.TaxAmount)
	gross, hasGross := parse("gross_amount", l.GrossAmount)
	if len(errs) > 0 {
		return out, errs
	}

	switch {
	case hasNet && hasUnit:
		if !within(qty.Mul(unit), net, tolerance) {
			errs = append(errs, lineError{"net_amount", net.StringFixed(2),
				fmt.Sprintf("does not equal %s x %s", qty.String(), unit.StringFixed(2))})
		}
	case hasNet:
		unit = net.Div(qty).Round(2)
	case hasUnit:
		net = qty.Mul(unit).Round(2)
	default:
		errs = append(errs, lineError{"net_amount", "", "is required"})
	}

	rate := l.TaxRate
	if rate == "" {
		rate = defaultRate
	}
	frac, ok := rules.RateFraction(rate)
	if !ok {
		errs = append(errs, lineError{"tax_rate", rate, "is not a tax rate"})
	}
	if len(errs) > 0 {
		return out, errs
	}
	if !hasTax {
		tax = net.Mul(frac).Round(2)
	}
	if !hasGross {
		gross = net.Add(tax)
	}

	out.Quantity = qty
	out.UnitNetPrice = unit.Round(2)
	out.TaxRate = rate
	out.NetAmount = net.Round(2)
	out.TaxAmount = tax.Round(2)
	out.GrossAmount = gross.Round(2)
	return out, nil
}

func within(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

func invalid(msg string) common.ValidationRule {
	return func(fieldName string, value interface{}) *common.ValidationError {
		return &common.ValidationError{Field: fieldName, Value: value, Message: msg}
	}
}
