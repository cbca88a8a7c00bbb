package rules_test

import (
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
)

func polishExtraction(conf float64) *entity.Extraction {
	c := func(v string) entity.Candidate { return entity.Candidate{Value: v, Confidence: conf} }
	return &entity.Extraction{
		RawText: "Faktura VAT nr FV/12/2024\nNIP 526-025-02-74",
		RawFields: map[string]entity.Candidate{
			constants.FieldInvoiceNumber: c("Nr FV/12/2024"),
			constants.FieldIssueDate:     c("15.03.2024"),
			constants.FieldSaleDate:      c("15 marca 2024"),
			constants.FieldSellerName:    c("ACME Sp. z o.o."),
			constants.FieldSellerTaxID:   c("526-025-02-74"),
			constants.FieldBuyerName:     c("Beta SA"),
			constants.FieldBuyerTaxID:    c("PL7740001454"),
			constants.FieldNetTotal:      c("1 003,71 zł"),
			constants.FieldTaxTotal:      c("230,85 zł"),
			constants.FieldGrossTotal:    c("1 234,56 zł"),
		},
		RawLines: []entity.LineCandidate{{
			Description: "Usługa  serwisowa", Quantity: "1 szt.", UnitNetPrice: "1 003,71",
			TaxRate: "23%", NetAmount: "1 003,71", TaxAmount: "230,85", GrossAmount: "1 234,56",
		}},
	}
}

var _ = Describe("Enhancer", func() {
	var enhancer *rules.Enhancer

	BeforeEach(func() {
		enhancer = rules.NewDefaultEnhancer(rules.DefaultOptions, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("normalizes a well-formed Polish invoice and grants bonuses", func() {
		out := enhancer.Enhance(polishExtraction(80), "pl-PL")

		Expect(out.Ruleset).To(Equal("PL"))
		Expect(out.BuyerKind).To(Equal(constants.BuyerBusiness))
		Expect(out.CriticalFailure).To(BeFalse())
		Expect(out.MandatoryValid()).To(BeTrue())
		Expect(out.Mandatory).To(ContainElement(constants.FieldBuyerTaxID))
		Expect(out.Penalty()).To(BeZero())

		Expect(out.Value(constants.FieldInvoiceNumber)).To(Equal("FV/12/2024"))
		Expect(out.Value(constants.FieldIssueDate)).To(Equal("2024-03-15"))
		Expect(out.Value(constants.FieldSaleDate)).To(Equal("2024-03-15"))
		Expect(out.Value(constants.FieldSellerTaxID)).To(Equal("5260250274"))
		Expect(out.Value(constants.FieldBuyerTaxID)).To(Equal("7740001454"))
		Expect(out.Value(constants.FieldSellerName)).To(Equal("ACME sp. z o.o."))
		Expect(out.Value(constants.FieldBuyerName)).To(Equal("Beta S.A."))
		Expect(out.Value(constants.FieldGrossTotal)).To(Equal("1234.56"))
		Expect(out.Value(constants.FieldCurrency)).To(Equal("PLN"))

		Expect(out.Fields[constants.FieldSellerTaxID].Confidence).To(Equal(85.0))
		Expect(out.Fields[constants.FieldSellerTaxID].State).To(Equal(entity.FieldValid))

		Expect(out.Lines).To(HaveLen(1))
		Expect(out.Lines[0].Description).To(Equal("Usługa serwisowa"))
		Expect(out.Lines[0].Quantity).To(Equal("1"))
		Expect(out.Lines[0].TaxRate).To(Equal("23"))
		Expect(out.Lines[0].GrossAmount).To(Equal("1234.56"))
	})

	It("caps bonuses at 100", func() {
		out := enhancer.Enhance(polishExtraction(98), "pl")
		Expect(out.Fields[constants.FieldSellerTaxID].Confidence).To(Equal(100.0))
	})

	It("is idempotent", func() {
		once := enhancer.Enhance(polishExtraction(80), "pl")
		twice := enhancer.Enhance(once, "pl")
		Expect(twice).To(Equal(once))
	})

	It("does not modify its input", func() {
		in := polishExtraction(80)
		enhancer.Enhance(in, "pl")
		Expect(in.Fields).To(BeNil())
		Expect(in.RawFields[constants.FieldGrossTotal].Value).To(Equal("1 234,56 zł"))
	})

	It("zeroes an invalid NIP, penalizes the document and flags a critical failure", func() {
		in := polishExtraction(99)
		in.RawFields[constants.FieldSellerTaxID] = entity.Candidate{Value: "1234567890", Confidence: 99}
		out := enhancer.Enhance(in, "pl")

		seller := out.Fields[constants.FieldSellerTaxID]
		Expect(seller.State).To(Equal(entity.FieldInvalid))
		Expect(seller.Confidence).To(BeZero())
		Expect(out.CriticalFailure).To(BeTrue())
		Expect(out.MandatoryValid()).To(BeFalse())
		Expect(out.Penalty()).To(Equal(rules.DefaultOptions.DocumentPenalty))
	})

	It("recognizes individual buyers by PESEL and relaxes the buyer tax id", func() {
		in := polishExtraction(80)
		in.RawFields[constants.FieldBuyerName] = entity.Candidate{Value: "Jan Kowalski", Confidence: 80}
		in.RawFields[constants.FieldBuyerTaxID] = entity.Candidate{Value: "44051401359", Confidence: 80}
		out := enhancer.Enhance(in, "pl")
		Expect(out.BuyerKind).To(Equal(constants.BuyerIndividual))
		Expect(out.Mandatory).NotTo(ContainElement(constants.FieldBuyerTaxID))
		Expect(out.MandatoryValid()).To(BeTrue())

		delete(in.RawFields, constants.FieldBuyerTaxID)
		out = enhancer.Enhance(in, "pl")
		Expect(out.BuyerKind).To(Equal(constants.BuyerIndividual))
		Expect(out.MandatoryValid()).To(BeTrue())
	})

	It("penalizes each missing mandatory field", func() {
		in := polishExtraction(80)
		delete(in.RawFields, constants.FieldInvoiceNumber)
		delete(in.RawFields, constants.FieldTaxTotal)
		out := enhancer.Enhance(in, "pl")
		Expect(out.Fields[constants.FieldInvoiceNumber].State).To(Equal(entity.FieldMissing))
		Expect(out.Penalty()).To(Equal(2 * rules.DefaultOptions.DocumentPenalty))
		Expect(out.CriticalFailure).To(BeTrue())
	})

	It("rejects a buyer identical to the seller", func() {
		in := polishExtraction(80)
		in.RawFields[constants.FieldBuyerName] = entity.Candidate{Value: "ACME sp. z o.o.", Confidence: 80}
		out := enhancer.Enhance(in, "pl")
		Expect(out.Fields[constants.FieldBuyerName].State).To(Equal(entity.FieldInvalid))
	})

	Describe("Select", func() {
		It("prefers the locale hint, then the text, then the default country", func() {
			Expect(enhancer.Select("pl-PL", "").Country()).To(Equal("PL"))
			Expect(enhancer.Select("PL", "").Country()).To(Equal("PL"))
			Expect(enhancer.Select("de-DE", "Rechnung").Country()).To(Equal("generic"))
			Expect(enhancer.Select("de-DE", "Kwota 10 zł").Country()).To(Equal("PL"))
			Expect(enhancer.Select("", "Invoice").Country()).To(Equal("PL"))
		})
	})

	It("falls back to generic rules that accept tax ids as printed", func() {
		in := polishExtraction(80)
		in.RawText = "Invoice"
		in.RawFields[constants.FieldSellerTaxID] = entity.Candidate{Value: "DE 123456789", Confidence: 80}
		out := enhancer.Enhance(in, "de")
		Expect(out.Ruleset).To(Equal("generic"))
		Expect(out.Value(constants.FieldSellerTaxID)).To(Equal("DE123456789"))
		Expect(out.CriticalFailure).To(BeFalse())
	})
})
