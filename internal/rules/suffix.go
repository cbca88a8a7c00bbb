package rules

import (
	"regexp"
	"strings"
)

type legalSuffix struct {
	re        *regexp.Regexp
	canonical string
}

func suffixRe(body string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[\s,]+)` + body + `\s*$`)
}

// Compound forms come before the forms they contain.
var legalSuffixes = []legalSuffix{
	{suffixRe(`spółka\s+z\s+ograniczoną\s+odpowiedzialnością`), "sp. z o.o."},
	{suffixRe(`sp\.?\s*z\s*o\.?\s*o\.?`), "sp. z o.o."},
	{suffixRe(`spółka\s+komandytowo[\s-]+akcyjna`), "S.K.A."},
	{suffixRe(`s\.?\s*k\.?\s*a\.?`), "S.K.A."},
	{suffixRe(`prosta\s+spółka\s+akcyjna`), "P.S.A."},
	{suffixRe(`p\.?\s*s\.?\s*a\.?`), "P.S.A."},
	{suffixRe(`spółka\s+akcyjna`), "S.A."},
	{suffixRe(`s\.?\s*a\.?`), "S.A."},
	{suffixRe(`spółka\s+jawna`), "sp.j."},
	{suffixRe(`sp\.?\s*j\.?`), "sp.j."},
	{suffixRe(`spółka\s+komandytowa`), "sp.k."},
	{suffixRe(`sp\.?\s*k\.?`), "sp.k."},
	{suffixRe(`spółka\s+partnerska`), "sp.p."},
	{suffixRe(`sp\.?\s*p\.?`), "sp.p."},
	{suffixRe(`spółka\s+cywilna`), "s.c."},
	{suffixRe(`s\.?\s*c\.?`), "s.c."},
}

var partyLabels = regexp.MustCompile(`(?i)^(sprzedawca|sprzedający|wystawca|nabywca|kupujący|odbiorca|płatnik|seller|buyer)\s*:?\s*`)

var reSpaces = regexp.MustCompile(`\s+`)

// NormalizeCompanyName strips party labels, collapses whitespace and rewrites a
// trailing legal-entity suffix into its canonical form. The second result is
// the canonical suffix, or "" when none was recognized.
func NormalizeCompanyName(name string) (string, string) {
	name = strings.TrimSpace(reSpaces.ReplaceAllString(name, " "))
	name = strings.TrimSpace(partyLabels.ReplaceAllString(name, ""))
	for _, s := range legalSuffixes {
		loc := s.re.FindStringIndex(name)
		if loc == nil || loc[0] == 0 {
			continue
		}
		base := strings.TrimRight(strings.TrimSpace(name[:loc[0]]), ",")
		if base == "" {
			continue
		}
		return base + " " + s.canonical, s.canonical
	}
	return name, ""
}

// HasLegalSuffix reports whether name ends in a recognized company form.
func HasLegalSuffix(name string) bool {
	_, suffix := NormalizeCompanyName(name)
	return suffix != ""
}
