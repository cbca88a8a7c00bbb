package rules_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
)

var _ = Describe("ParseAmount", func() {
	It("reads 1 234,56 zł as exactly 1234.56", func() {
		a, err := rules.ParseAmount("1 234,56 zł", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Value.Equal(decimal.RequireFromString("1234.56"))).To(BeTrue())
		Expect(a.Value.String()).To(Equal("1234.56"))
		Expect(a.Currency).To(Equal("PLN"))
		Expect(a.Localized).To(BeTrue())
	})

	DescribeTable("notations",
		func(in string, decimalComma bool, want, currency string) {
			a, err := rules.ParseAmount(in, decimalComma)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules.FormatAmount(a.Value)).To(Equal(want))
			Expect(a.Currency).To(Equal(currency))
		},
		Entry("dot grouping, comma decimal", "1.234,56 PLN", true, "1234.56", "PLN"),
		Entry("plain decimal point", "1234.56", true, "1234.56", ""),
		Entry("leading symbol", "zł 12,00", true, "12.00", "PLN"),
		Entry("nbsp grouping", "12 345,10 zł", true, "12345.10", "PLN"),
		Entry("thin space grouping", "1 000,00", true, "1000.00", ""),
		Entry("comma grouping, dot decimal", "1,234.56", false, "1234.56", ""),
		Entry("euro symbol", "€ 99,99", true, "99.99", "EUR"),
		Entry("dollar", "$1,200.00", false, "1200.00", "USD"),
		Entry("negative correction", "-50,00 zł", true, "-50.00", "PLN"),
		Entry("dotted thousands in PL", "1.234 zł", true, "1234.00", "PLN"),
		Entry("integer", "100", true, "100.00", ""),
		Entry("uppercase symbol", "15,5 ZŁ", true, "15.50", "PLN"),
		Entry("trailing full stop after the currency", "1 234,56 zł.", true, "1234.56", "PLN"),
		Entry("trailing full stop after the digits", "1 234,56.", true, "1234.56", ""),
		Entry("trailing comma", "99,99 PLN,", true, "99.99", "PLN"),
		Entry("trailing full stop on an integer", "100.", true, "100.00", ""),
	)

	It("rejects text that is not an amount", func() {
		for _, in := range []string{"", "abc", "12,34,5x", "zł"} {
			_, err := rules.ParseAmount(in, true)
			Expect(err).To(MatchError(rules.ErrNotAmount), in)
		}
	})
})

var _ = Describe("ParseTaxRate", func() {
	DescribeTable("rates",
		func(in, want string) {
			got, ok := rules.ParseTaxRate(in)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(want))
		},
		Entry(nil, "23%", "23"),
		Entry(nil, "8 %", "8"),
		Entry(nil, "0,05", "5"),
		Entry(nil, "0.23", "23"),
		Entry(nil, "0%", "0"),
		Entry(nil, "zw", "zw"),
		Entry(nil, "NP.", "np"),
		Entry(nil, "VAT 23%", "23"),
	)

	It("turns rates into exact fractions", func() {
		f, ok := rules.RateFraction("23")
		Expect(ok).To(BeTrue())
		Expect(f.Equal(decimal.RequireFromString("0.23"))).To(BeTrue())
		f, ok = rules.RateFraction("zw")
		Expect(ok).To(BeTrue())
		Expect(f.IsZero()).To(BeTrue())
	})

	It("rejects garbage", func() {
		_, ok := rules.ParseTaxRate("dwadzieścia")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ParseDate", func() {
	DescribeTable("notations",
		func(in, want string) {
			t, ok := rules.ParseDate(in)
			Expect(ok).To(BeTrue(), in)
			Expect(t.Format(rules.ISODate)).To(Equal(want))
		},
		Entry(nil, "15.03.2024", "2024-03-15"),
		Entry(nil, "15-03-2024", "2024-03-15"),
		Entry(nil, "5/3/2024", "2024-03-05"),
		Entry(nil, "2024-03-15", "2024-03-15"),
		Entry(nil, "2024.03.15", "2024-03-15"),
		Entry(nil, "15 marca 2024", "2024-03-15"),
		Entry(nil, "1 października 2023 r.", "2023-10-01"),
		Entry(nil, "31 grudnia 2024r.", "2024-12-31"),
	)

	It("rejects impossible days and unknown months", func() {
		for _, in := range []string{"31.02.2024", "15 foo 2024", "2024-13-01", "yesterday"} {
			_, ok := rules.ParseDate(in)
			Expect(ok).To(BeFalse(), in)
		}
	})

	It("produces UTC midnight", func() {
		t, _ := rules.ParseDate("01.01.2025")
		Expect(t).To(Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	})
})

var _ = Describe("tax identifiers", func() {
	It("validates NIP checksums", func() {
		for _, in := range []string{"5260250274", "526-025-02-74", "PL 526 025 02 74", "NIP: 7740001454"} {
			digits, ok := rules.NormalizeNIP(in)
			Expect(ok).To(BeTrue(), in)
			Expect(digits).To(HaveLen(10))
		}
		for _, in := range []string{"1234567890", "5260250275", "526025027", "0000000000", "ABCDEFGHIJ"} {
			Expect(rules.ValidNIP(in)).To(BeFalse(), in)
		}
	})

	It("validates PESEL checksums and birth dates", func() {
		_, ok := rules.NormalizePESEL("44051401359")
		Expect(ok).To(BeTrue())
		_, ok = rules.NormalizePESEL("02130803627")
		Expect(ok).To(BeFalse())
		_, ok = rules.NormalizePESEL("44051401358")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("NormalizeCompanyName", func() {
	DescribeTable("suffixes",
		func(in, name, suffix string) {
			gotName, gotSuffix := rules.NormalizeCompanyName(in)
			Expect(gotName).To(Equal(name))
			Expect(gotSuffix).To(Equal(suffix))
		},
		Entry(nil, "ACME Sp. z o.o.", "ACME sp. z o.o.", "sp. z o.o."),
		Entry(nil, "ACME spółka z ograniczoną odpowiedzialnością", "ACME sp. z o.o.", "sp. z o.o."),
		Entry(nil, "Beta SA", "Beta S.A.", "S.A."),
		Entry(nil, "Gamma S.K.A.", "Gamma S.K.A.", "S.K.A."),
		Entry(nil, "Delta P.S.A.", "Delta P.S.A.", "P.S.A."),
		Entry(nil, "Kowalski i Syn sp.j.", "Kowalski i Syn sp.j.", "sp.j."),
		Entry(nil, "Sprzedawca: Omega, sp. k.", "Omega sp.k.", "sp.k."),
		Entry(nil, "Jan Kowalski", "Jan Kowalski", ""),
	)
})
