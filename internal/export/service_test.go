package export_test

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/export"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

var _ = Describe("ExportInvoicesXLSX", func() {
	var (
		ctx   context.Context
		store *repository.Store
		svc   *export.Service
		owner uuid.UUID
	)

	invoice := func(number string, day int, confidence float64) {
		doc := &entity.Document{
			OwnerID: owner, Filename: number + ".pdf", StorageKey: "k/" + number, SizeBytes: 10,
			ContentType: constants.MIMEPDF, ContentHash: uuid.NewString(), LocaleHint: "pl",
		}
		Expect(store.Documents.Create(ctx, doc, constants.ActorIngest)).To(Succeed())
		_, err := store.Invoices.Insert(ctx, &entity.Invoice{
			DocumentID: doc.ID, OwnerID: owner, ExtractionID: uuid.New(),
			Number: number, IssueDate: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
			SellerName: "ACME sp. z o.o.", SellerTaxID: "5260250274", BuyerName: "Jan Kowalski",
			BuyerKind: constants.BuyerIndividual, Currency: "PLN",
			NetTotal:                   decimal.RequireFromString("100.00"),
			TaxTotal:                   decimal.RequireFromString("23.00"),
			GrossTotal:                 decimal.RequireFromString("123.00"),
			Confidence:                 confidence,
			RequiresManualVerification: confidence < 90,
			Lines: []entity.InvoiceLine{
				{Position: 1, Description: "Konsultacja", Quantity: decimal.NewFromInt(1), UnitNetPrice: decimal.RequireFromString("100"),
					TaxRate: "23", NetAmount: decimal.RequireFromString("100"), TaxAmount: decimal.RequireFromString("23"), GrossAmount: decimal.RequireFromString("123")},
			},
		})
		Expect(err).NotTo(HaveOccurred())
	}

	open := func(b []byte) *excelize.File {
		f, err := excelize.OpenReader(bytes.NewReader(b))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.Close)
		return f
	}

	BeforeEach(func() {
		ctx = context.Background()
		db, err := repository.OpenSQLite(ctx, ":memory:", discard)
		Expect(err).NotTo(HaveOccurred())
		Expect(db.Migrate(ctx)).To(Succeed())
		DeferCleanup(db.Close)
		store = repository.NewStore(db, discard)
		svc = export.NewService(store.Invoices, store.Documents, discard)
		owner = uuid.New()

		invoice("FV/1/2024", 5, 98)
		invoice("FV/2/2024", 20, 75)
	})

	It("writes one row per invoice and highlights the ones needing verification", func() {
		b, err := svc.ExportInvoicesXLSX(ctx, owner, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		f := open(b)

		rows, err := f.GetRows(export.InvoicesSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0][11]).To(Equal("Requires Manual Verification"))
		Expect(rows[1][1]).To(Equal("FV/1/2024"))
		Expect(rows[1][11]).To(Equal("no"))
		Expect(rows[2][1]).To(Equal("FV/2/2024"))
		Expect(rows[2][11]).To(Equal("yes"))
		Expect(rows[2][12]).To(Equal("FV/2/2024.pdf"))

		clean, err := f.GetCellStyle(export.InvoicesSheet, "A2")
		Expect(err).NotTo(HaveOccurred())
		flagged, err := f.GetCellStyle(export.InvoicesSheet, "A3")
		Expect(err).NotTo(HaveOccurred())
		Expect(flagged).NotTo(Equal(clean))

		lines, err := f.GetRows(export.LinesSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(HaveLen(3))
		Expect(lines[1][2]).To(Equal("Konsultacja"))
	})

	It("writes amounts and quantities with their exact digits", func() {
		owner = uuid.New()
		doc := &entity.Document{
			OwnerID: owner, Filename: "fuel.pdf", StorageKey: "k/fuel", SizeBytes: 10,
			ContentType: constants.MIMEPDF, ContentHash: uuid.NewString(), LocaleHint: "pl",
		}
		Expect(store.Documents.Create(ctx, doc, constants.ActorIngest)).To(Succeed())
		_, err := store.Invoices.Insert(ctx, &entity.Invoice{
			DocumentID: doc.ID, OwnerID: owner, ExtractionID: uuid.New(),
			Number: "FV/9/2024", IssueDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			SellerName: "Orlen S.A.", SellerTaxID: "7740001454", BuyerName: "Jan Kowalski",
			BuyerKind: constants.BuyerIndividual, Currency: "PLN",
			NetTotal:   decimal.RequireFromString("1003.71"),
			TaxTotal:   decimal.RequireFromString("230.85"),
			GrossTotal: decimal.RequireFromString("1234.56"),
			Confidence: 97,
			Lines: []entity.InvoiceLine{
				{Position: 1, Description: "Olej", Quantity: decimal.RequireFromString("0.125"), UnitNetPrice: decimal.RequireFromString("8029.68"),
					TaxRate: "23", NetAmount: decimal.RequireFromString("1003.71"), TaxAmount: decimal.RequireFromString("230.85"), GrossAmount: decimal.RequireFromString("1234.56")},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		b, err := svc.ExportInvoicesXLSX(ctx, owner, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		f := open(b)
		raw := excelize.Options{RawCellValue: true}

		gross, err := f.GetCellValue(export.InvoicesSheet, "J2", raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(gross).To(Equal("1234.56"))
		styleID, err := f.GetCellStyle(export.InvoicesSheet, "J2")
		Expect(err).NotTo(HaveOccurred())
		style, err := f.GetStyle(styleID)
		Expect(err).NotTo(HaveOccurred())
		Expect(style.NumFmt).To(Equal(4))
		kind, err := f.GetCellType(export.InvoicesSheet, "J2")
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).NotTo(Equal(excelize.CellTypeSharedString))

		qty, err := f.GetCellValue(export.LinesSheet, "D2", raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(qty).To(Equal("0.125"))
		unit, err := f.GetCellValue(export.LinesSheet, "E2", raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(unit).To(Equal("8029.68"))
	})

	It("limits the export to the issue date window", func() {
		from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
		b, err := svc.ExportInvoicesXLSX(ctx, owner, &from, &to)
		Expect(err).NotTo(HaveOccurred())

		rows, err := open(b).GetRows(export.InvoicesSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[1][1]).To(Equal("FV/2/2024"))
	})

	It("exports only headers for an owner without invoices", func() {
		b, err := svc.ExportInvoicesXLSX(ctx, uuid.New(), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		rows, err := open(b).GetRows(export.InvoicesSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})
})
