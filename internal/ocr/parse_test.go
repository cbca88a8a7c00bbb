package ocr_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/ocr"
)

const stackedInvoice = `FAKTURA VAT nr FV/2024/03/17
Miejsce i data wystawienia: Warszawa, 15.03.2024
Data sprzedaży: 15.03.2024
Termin płatności: 29 marca 2024

Sprzedawca:
ACME Sp. z o.o.
ul. Prosta 1, 00-001 Warszawa
NIP: 526-025-02-74

Nabywca:
Jan Kowalski
PESEL 44051401359

Lp. Nazwa Ilość Cena netto Stawka Wartość netto VAT Brutto
1. Abonament serwisowy 1 szt. 803,71 23% 803,71 184,85 988,56
2. Dojazd 2 szt. 100,00 23% 200,00 46,00 246,00

Razem netto: 1 003,71 zł
Kwota VAT: 230,85 zł
Do zapłaty: 1 234,56 zł
`

var _ = Describe("ParseFields", func() {
	It("reads a stacked Polish invoice", func() {
		fields, lines := ocr.ParseFields(stackedInvoice, 90)

		values := map[string]string{}
		for k, c := range fields {
			values[k] = c.Value
		}
		Expect(values).To(Equal(map[string]string{
			constants.FieldInvoiceNumber: "FV/2024/03/17",
			constants.FieldIssueDate:     "15.03.2024",
			constants.FieldSaleDate:      "15.03.2024",
			constants.FieldDueDate:       "29 marca 2024",
			constants.FieldSellerName:    "ACME Sp. z o.o.",
			constants.FieldSellerTaxID:   "526-025-02-74",
			constants.FieldBuyerName:     "Jan Kowalski",
			constants.FieldBuyerTaxID:    "44051401359",
			constants.FieldNetTotal:      "1 003,71 zł",
			constants.FieldTaxTotal:      "230,85 zł",
			constants.FieldGrossTotal:    "1 234,56 zł",
			constants.FieldTaxRate:       "23%",
		}))
		Expect(fields[constants.FieldInvoiceNumber].Confidence).To(Equal(90.0))
		Expect(fields[constants.FieldSellerName].Confidence).To(BeNumerically("~", 81, 1e-9))
		Expect(fields[constants.FieldTaxRate].Confidence).To(BeNumerically("~", 72, 1e-9))

		Expect(lines).To(HaveLen(2))
		Expect(lines[0].Description).To(Equal("Abonament serwisowy"))
		Expect(lines[0].Quantity).To(Equal("1"))
		Expect(lines[0].UnitNetPrice).To(Equal("803,71"))
		Expect(lines[0].TaxRate).To(Equal("23%"))
		Expect(lines[0].NetAmount).To(Equal("803,71"))
		Expect(lines[0].TaxAmount).To(Equal("184,85"))
		Expect(lines[0].GrossAmount).To(Equal("988,56"))
		Expect(lines[1].Description).To(Equal("Dojazd"))
		Expect(lines[1].Quantity).To(Equal("2"))
	})

	It("splits seller and buyer printed side by side", func() {
		row := func(l, r string) string { return fmt.Sprintf("%-32s%s", l, r) }
		text := strings.Join([]string{
			"Faktura VAT FV/7/2024",
			row("Sprzedawca:", "Nabywca:"),
			row("ACME Sp. z o.o.", "Beta S.A."),
			row("ul. Prosta 1", "ul. Krzywa 2"),
			row("NIP 526-025-02-74", "NIP PL 774-000-14-54"),
			"",
			"Razem: 100,00 23,00 123,00 PLN",
		}, "\n")

		fields, _ := ocr.ParseFields(text, 80)
		Expect(fields[constants.FieldInvoiceNumber].Value).To(Equal("FV/7/2024"))
		Expect(fields[constants.FieldInvoiceNumber].Confidence).To(BeNumerically("~", 64, 1e-9))
		Expect(fields[constants.FieldSellerName].Value).To(Equal("ACME Sp. z o.o."))
		Expect(fields[constants.FieldSellerTaxID].Value).To(Equal("526-025-02-74"))
		Expect(fields[constants.FieldBuyerName].Value).To(Equal("Beta S.A."))
		Expect(fields[constants.FieldBuyerTaxID].Value).To(Equal("PL 774-000-14-54"))
		Expect(fields[constants.FieldNetTotal].Value).To(Equal("100,00 PLN"))
		Expect(fields[constants.FieldTaxTotal].Value).To(Equal("23,00 PLN"))
		Expect(fields[constants.FieldGrossTotal].Value).To(Equal("123,00 PLN"))
	})

	It("returns nothing for unrelated text", func() {
		fields, lines := ocr.ParseFields("Lorem ipsum dolor sit amet", 90)
		Expect(fields).To(BeEmpty())
		Expect(lines).To(BeEmpty())
	})
})

var _ = Describe("Normalize", func() {
	It("drops rule lines and trailing blanks but keeps columns", func() {
		in := "Sprzedawca:      Nabywca:  \r\n-----\r\n\r\n\r\n\r\nRazem\t1,00\f"
		Expect(ocr.Normalize(in)).To(Equal("Sprzedawca:      Nabywca:\n\nRazem    1,00"))
	})
})
