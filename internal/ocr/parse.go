package ocr

import (
	"regexp"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

const (
	dateExpr   = `(\d{1,2}[./-]\d{1,2}[./-]\d{4}|\d{4}[./-]\d{1,2}[./-]\d{1,2}|\d{1,2}\s+\p{L}+\s+\d{4})`
	amountExpr = `(-?\d{1,3}(?:[ \x{00a0}.]\d{3})+,\d{2}|-?\d{1,3}(?:,\d{3})+\.\d{2}|-?\d+[.,]\d{2})`
	currExpr   = `(?:[ \x{00a0}]*(zł|zl|PLN|EUR|€|USD|\$|GBP|£|CHF))?`
	rateExpr   = `(\d{1,2}(?:[.,]\d+)?[ \x{00a0}]*%|(?i:zw|np))`
	// sp is horizontal space; labels and values share a line.
	sp = `[ \t\x{00a0}]*`
)

var (
	reNumber = regexp.MustCompile(`(?i)(?:faktura(?:\s+vat)?\s+(?:nr|numer)\.?|n(?:r|umer)\s+faktury|invoice\s+(?:no\.?|number))` + sp + `[:#]?` + sp + `([\p{L}\d][\p{L}\d/._-]*)`)
	reNumberLoose = regexp.MustCompile(`(?i)faktura(?:\s+vat)?` + sp + `[:#]?` + sp + `(\p{L}{0,4}[/-]?\d+[/-][\p{L}\d/._-]*)`)

	reIssueDate = regexp.MustCompile(`(?i)data\s+(?:wystawienia|wyst\.)` + sp + `:?` + sp + `(?:[\p{L} .-]+,\s*)?` + dateExpr)
	reSaleDate  = regexp.MustCompile(`(?i)data\s+(?:sprzedaży|dostawy|wykonania\s+usługi|zakończenia\s+dostawy)` + sp + `:?` + sp + dateExpr)
	reDueDate   = regexp.MustCompile(`(?i)termin\s+(?:płatności|zapłaty)` + sp + `:?` + sp + dateExpr)
	reAnyDate   = regexp.MustCompile(`(?:^|\s)` + dateExpr)

	reNet     = regexp.MustCompile(`(?i)(?:razem\s+)?(?:wartość\s+)?netto` + sp + `:?` + sp + amountExpr + currExpr)
	reTax     = regexp.MustCompile(`(?i)(?:kwota\s+|razem\s+)?\b(?:vat|podatek)` + sp + `:?` + sp + amountExpr + currExpr)
	reGross   = regexp.MustCompile(`(?i)(?:brutto|do\s+zapłaty|suma)` + sp + `:?` + sp + amountExpr + currExpr)
	reSummary = regexp.MustCompile(`(?im)^\s*(?:razem|ogółem|suma)` + sp + `:?` + sp + amountExpr + `\s+` + amountExpr + `\s+` + amountExpr + currExpr)

	reCurrency = regexp.MustCompile(`(?i)waluta\s*:?\s*([A-Z]{3})\b`)
	reRate     = regexp.MustCompile(`(?i)stawka(?:\s+vat)?\s*:?\s*` + rateExpr)

	reSellerLabel = regexp.MustCompile(`(?i)\b(?:sprzedawca|sprzedający|wystawca|seller)\b\s*:?`)
	reBuyerLabel  = regexp.MustCompile(`(?i)\b(?:nabywca|kupujący|buyer)\b\s*:?`)
	reNIP         = regexp.MustCompile(`(?i)\bNIP\b\s*:?\s*((?:PL\s*)?\d[\d\- ]{8,14}\d)`)
	rePESEL       = regexp.MustCompile(`(?i)\bPESEL\b\s*:?\s*(\d{11})`)
	reIDLine      = regexp.MustCompile(`(?i)^(?:NIP|PESEL|REGON|KRS|BDO|tel|e-?mail|konto|nr\s+konta)\b`)

	reLine = regexp.MustCompile(`^\s*(\d{1,3})[.)]?\s+(.+?)\s+(\d+(?:[.,]\d+)?)\s*(?i:szt\.?|usł\.?|kg|h|godz\.?|m2|km|kpl\.?|op\.?)?\s+` +
		amountExpr + `\s+` + rateExpr + `\s+` + amountExpr + `\s+` + amountExpr + `\s+` + amountExpr + `\s*$`)
)

// Relative confidence of loose matches.
const (
	looseFactor = 0.8
	nameFactor  = 0.9
)

// ParseFields finds invoice fields in OCR text. Values are returned as printed;
// the country rules normalize them. conf (0..100) is the confidence of a
// labelled match.
func ParseFields(text string, conf float64) (map[string]entity.Candidate, []entity.LineCandidate) {
	fields := map[string]entity.Candidate{}
	set := func(field, value string, c float64) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := fields[field]; ok {
			return
		}
		fields[field] = entity.Candidate{Value: value, Confidence: c}
	}

	if m := reNumber.FindStringSubmatch(text); m != nil && strings.ContainsAny(m[1], "0123456789") {
		set(constants.FieldInvoiceNumber, strings.TrimRight(m[1], "."), conf)
	} else if m := reNumberLoose.FindStringSubmatch(text); m != nil {
		set(constants.FieldInvoiceNumber, strings.TrimRight(m[1], "."), conf*looseFactor)
	}

	if m := reIssueDate.FindStringSubmatch(text); m != nil {
		set(constants.FieldIssueDate, m[1], conf)
	}
	if m := reSaleDate.FindStringSubmatch(text); m != nil {
		set(constants.FieldSaleDate, m[1], conf)
	}
	if m := reDueDate.FindStringSubmatch(text); m != nil {
		set(constants.FieldDueDate, m[1], conf)
	}
	if m := reAnyDate.FindStringSubmatch(text); m != nil {
		set(constants.FieldIssueDate, m[1], conf*looseFactor)
	}

	seller, buyer := parties(text)
	for _, p := range []struct {
		block           party
		nameField, idField string
	}{
		{seller, constants.FieldSellerName, constants.FieldSellerTaxID},
		{buyer, constants.FieldBuyerName, constants.FieldBuyerTaxID},
	} {
		set(p.nameField, p.block.name, conf*nameFactor)
		set(p.idField, p.block.taxID, conf)
	}

	last := func(re *regexp.Regexp) []string {
		all := re.FindAllStringSubmatch(text, -1)
		if len(all) == 0 {
			return nil
		}
		return all[len(all)-1]
	}
	amount := func(m []string, i int) string {
		if m[i+1] != "" {
			return m[i] + " " + m[i+1]
		}
		return m[i]
	}
	if m := last(reNet); m != nil {
		set(constants.FieldNetTotal, amount(m, 1), conf)
	}
	if m := last(reTax); m != nil {
		set(constants.FieldTaxTotal, amount(m, 1), conf)
	}
	if m := last(reGross); m != nil {
		set(constants.FieldGrossTotal, amount(m, 1), conf)
	}
	if m := last(reSummary); m != nil {
		cur := ""
		if m[4] != "" {
			cur = " " + m[4]
		}
		set(constants.FieldNetTotal, m[1]+cur, conf*looseFactor)
		set(constants.FieldTaxTotal, m[2]+cur, conf*looseFactor)
		set(constants.FieldGrossTotal, m[3]+cur, conf*looseFactor)
	}

	if m := reCurrency.FindStringSubmatch(text); m != nil {
		set(constants.FieldCurrency, m[1], conf)
	}

	lines := parseLines(text)
	rates := map[string]bool{}
	for _, l := range lines {
		rates[strings.ToLower(strings.ReplaceAll(l.TaxRate, " ", ""))] = true
	}
	if m := reRate.FindStringSubmatch(text); m != nil {
		set(constants.FieldTaxRate, m[1], conf)
	} else if len(rates) == 1 {
		set(constants.FieldTaxRate, lines[0].TaxRate, conf*looseFactor)
	}
	return fields, lines
}

func parseLines(text string) []entity.LineCandidate {
	var out []entity.LineCandidate
	for _, ln := range strings.Split(text, "\n") {
		m := reLine.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		out = append(out, entity.LineCandidate{
			Description:  strings.Join(strings.Fields(m[2]), " "),
			Quantity:     m[3],
			UnitNetPrice: m[4],
			TaxRate:      m[5],
			NetAmount:    m[6],
			TaxAmount:    m[7],
			GrossAmount:  m[8],
		})
	}
	return out
}

type party struct {
	name  string
	taxID string
}

const maxPartyLines = 6

// parties reads the seller and buyer blocks. Blocks are either stacked or
// printed side by side, in which case the buyer column starts where its label
// does.
func parties(text string) (party, party) {
	lines := strings.Split(text, "\n")
	si, scol, send := findLabel(lines, reSellerLabel)
	bi, bcol, bend := findLabel(lines, reBuyerLabel)

	var sellerLines, buyerLines []string
	switch {
	case si >= 0 && si == bi:
		left, right := scol, bcol
		first := []rune(lines[si])
		if left < right {
			sellerLines = append(sellerLines, string(first[send:right]))
			buyerLines = append(buyerLines, string(first[bend:]))
		} else {
			buyerLines = append(buyerLines, string(first[bend:left]))
			sellerLines = append(sellerLines, string(first[send:]))
		}
		split := max(left, right)
		for _, ln := range lines[si+1 : min(len(lines), si+1+maxPartyLines)] {
			if strings.TrimSpace(ln) == "" {
				break
			}
			r := []rune(ln)
			a, b := string(r[:min(split, len(r))]), ""
			if len(r) > split {
				b = string(r[split:])
			}
			if left < right {
				sellerLines, buyerLines = append(sellerLines, a), append(buyerLines, b)
			} else {
				buyerLines, sellerLines = append(buyerLines, a), append(sellerLines, b)
			}
		}
	default:
		if si >= 0 {
			sellerLines = block(lines, si, send, bi)
		}
		if bi >= 0 {
			buyerLines = block(lines, bi, bend, si)
		}
	}
	return readParty(sellerLines), readParty(buyerLines)
}

// findLabel returns the line index, rune column and rune end of the first label match.
func findLabel(lines []string, re *regexp.Regexp) (int, int, int) {
	for i, ln := range lines {
		if loc := re.FindStringIndex(ln); loc != nil {
			return i, len([]rune(ln[:loc[0]])), len([]rune(ln[:loc[1]]))
		}
	}
	return -1, 0, 0
}

// block collects a stacked party block starting after the label on line at.
func block(lines []string, at, col, stop int) []string {
	out := []string{string([]rune(lines[at])[col:])}
	for i := at + 1; i < len(lines) && i <= at+maxPartyLines; i++ {
		if i == stop {
			break
		}
		if strings.TrimSpace(lines[i]) == "" {
			if strings.TrimSpace(strings.Join(out, "")) != "" {
				break
			}
			continue
		}
		out = append(out, lines[i])
	}
	return out
}

func readParty(lines []string) party {
	var p party
	joined := strings.Join(lines, "\n")
	if m := reNIP.FindStringSubmatch(joined); m != nil {
		p.taxID = strings.TrimSpace(m[1])
	} else if m := rePESEL.FindStringSubmatch(joined); m != nil {
		p.taxID = m[1]
	}
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" || reIDLine.MatchString(ln) {
			continue
		}
		if loc := reNIP.FindStringIndex(ln); loc != nil {
			ln = strings.TrimSpace(ln[:loc[0]])
		}
		if loc := rePESEL.FindStringIndex(ln); loc != nil {
			ln = strings.TrimSpace(ln[:loc[0]])
		}
		ln = strings.TrimRight(ln, ",;")
		if ln != "" {
			p.name = strings.Join(strings.Fields(ln), " ")
			break
		}
	}
	return p
}
