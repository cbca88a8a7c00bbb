package rules

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNotAmount = errors.New("not a monetary amount")

type currencyToken struct {
	re   *regexp.Regexp
	code string
}

var currencyTokens = []currencyToken{
	{regexp.MustCompile(`(?i)PLN`), "PLN"},
	{regexp.MustCompile(`(?i)zł|\bzl\b`), "PLN"},
	{regexp.MustCompile(`(?i)EUR`), "EUR"},
	{regexp.MustCompile(`€`), "EUR"},
	{regexp.MustCompile(`(?i)USD`), "USD"},
	{regexp.MustCompile(`\$`), "USD"},
	{regexp.MustCompile(`(?i)GBP`), "GBP"},
	{regexp.MustCompile(`£`), "GBP"},
	{regexp.MustCompile(`(?i)CHF`), "CHF"},
}

var reAmountBody = regexp.MustCompile(`^-?\d[\d.,]*$`)

// Amount is a parsed monetary value.
type Amount struct {
	Value decimal.Decimal
	// Currency is the ISO code implied by a symbol or code in the text, or "".
	Currency string
	// Localized is true when the text used a locale-specific notation:
	// a decimal comma, space grouping or a currency symbol.
	Localized bool
}

// ParseAmount reads notations such as "1 234,56 zł", "1.234,56 PLN",
// "zł 12,00" and "1234.56". decimalComma selects how a lone separator
// followed by exactly three digits is read: as grouping when true.
func ParseAmount(s string, decimalComma bool) (Amount, error) {
	var a Amount
	s = strings.TrimSpace(s)
	for _, tok := range currencyTokens {
		if tok.re.MatchString(s) {
			if a.Currency == "" {
				a.Currency = tok.code
			}
			s = tok.re.ReplaceAllString(s, "")
			a.Localized = true
		}
	}

	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\u00a0', '\u2009', '\u202f', '\'':
			a.Localized = true
		default:
			b.WriteRune(r)
		}
	}
	// Sentence punctuation after the amount is not a separator.
	body := strings.TrimRight(b.String(), ".,")
	neg := false
	if strings.HasPrefix(body, "-") {
		neg, body = true, body[1:]
	}
	if body == "" || !reAmountBody.MatchString(body) {
		return Amount{}, ErrNotAmount
	}

	lastComma := strings.LastIndexByte(body, ',')
	lastDot := strings.LastIndexByte(body, '.')
	var intPart, frac string
	switch {
	case lastComma >= 0 && lastDot >= 0:
		sep := lastComma
		if lastDot > lastComma {
			sep = lastDot
		} else {
			a.Localized = true
		}
		intPart, frac = body[:sep], body[sep+1:]
	case lastComma >= 0:
		intPart, frac = splitSingle(body, ',', decimalComma)
		if frac != "" {
			a.Localized = true
		}
	case lastDot >= 0:
		intPart, frac = splitSingle(body, '.', !decimalComma)
	default:
		intPart = body
	}
	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if strings.ContainsAny(frac, ".,") {
		return Amount{}, ErrNotAmount
	}
	num := intPart
	if frac != "" {
		num += "." + frac
	}
	if neg {
		num = "-" + num
	}
	v, err := decimal.NewFromString(num)
	if err != nil {
		return Amount{}, ErrNotAmount
	}
	a.Value = v
	return a, nil
}

// splitSingle splits body on its only kind of separator. A separator used
// more than once is grouping. A single separator followed by exactly three
// digits is decimal only when threeIsDecimal is true.
func splitSingle(body string, sep byte, threeIsDecimal bool) (string, string) {
	if strings.Count(body, string(sep)) > 1 {
		return body, ""
	}
	i := strings.IndexByte(body, sep)
	frac := body[i+1:]
	if len(frac) == 3 && !threeIsDecimal {
		return body, ""
	}
	return body[:i], frac
}

// FormatAmount renders a refined monetary value.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Tax rate markers for exempt and out-of-scope supplies.
const (
	RateExempt     = "zw"
	RateNotTaxable = "np"
	RateOutOfScope = "oo"
)

var reRate = regexp.MustCompile(`^(\d{1,2}(?:[.,]\d{1,4})?)\s*%?$`)

// ParseTaxRate normalizes "23%", "8 %", "0,05" and the exempt markers. The
// result is a percent as a decimal string ("23", "5") or one of the markers.
func ParseTaxRate(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "vat")
	s = strings.TrimSpace(s)
	switch s {
	case RateExempt, "zw.", "zwolniony", "zwolnione":
		return RateExempt, true
	case RateNotTaxable, "np.", "n.p.":
		return RateNotTaxable, true
	case RateOutOfScope, "o.o.":
		return RateOutOfScope, true
	}
	m := reRate.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return "", false
	}
	if !strings.Contains(s, "%") && d.LessThan(decimal.NewFromInt(1)) && d.IsPositive() {
		d = d.Mul(decimal.NewFromInt(100))
	}
	if d.GreaterThan(decimal.NewFromInt(100)) {
		return "", false
	}
	return d.String(), true
}

// RateFraction turns a normalized percent into a multiplier. Exempt markers are zero.
func RateFraction(rate string) (decimal.Decimal, bool) {
	switch rate {
	case RateExempt, RateNotTaxable, RateOutOfScope:
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Div(decimal.NewFromInt(100)), true
}
