// Package export renders materialized invoices as XLSX workbooks.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

const (
	InvoicesSheet = "Invoices"
	LinesSheet    = "Lines"
)

var invoiceHeaders = []string{
	"Issue Date",
	"Invoice Number",
	"Seller",
	"Seller NIP",
	"Buyer",
	"Buyer Tax ID",
	"Currency",
	"Net",
	"VAT",
	"Gross",
	"Confidence",
	"Requires Manual Verification",
	"Source File",
}

// Columns holding amounts, 1-based.
var (
	invoiceMoneyCols = []int{8, 9, 10}
	lineMoneyCols    = []int{5, 7, 8, 9}
	lineQuantityCol  = 4
)

var lineHeaders = []string{
	"Invoice Number",
	"Position",
	"Description",
	"Quantity",
	"Unit Net Price",
	"VAT Rate",
	"Net",
	"VAT",
	"Gross",
}

// Service produces XLSX bytes for invoice exports.
type Service struct {
	invoices  repository.InvoiceRepository
	documents repository.DocumentRepository
	logger    *slog.Logger
}

func NewService(invoices repository.InvoiceRepository, documents repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, documents: documents, logger: logger}
}

// ExportInvoicesXLSX returns a workbook of the owner's invoices issued in the
// date window, one row per invoice plus a sheet of their lines. Invoices that
// require manual verification are highlighted.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all invoices of the owner.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := dateOnly(*from)
		fromDate = &f
	}
	if to != nil {
		t := dateOnly(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dateOnly(time.Now().UTC())
		toDate = &t
	}

	invs, err := s.invoices.ListByOwner(ctx, ownerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", InvoicesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(LinesSheet); err != nil {
		return nil, err
	}
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	if err := writeHeader(f, InvoicesSheet, invoiceHeaders, st.header); err != nil {
		return nil, err
	}
	if err := writeHeader(f, LinesSheet, lineHeaders, st.header); err != nil {
		return nil, err
	}

	row, lineRow, flagged := 2, 2, 0
	for _, inv := range invs {
		source := ""
		if doc, err := s.documents.Get(ctx, inv.DocumentID); err == nil {
			source = doc.Filename
		}
		buyerTaxID := ""
		if inv.BuyerTaxID != nil {
			buyerTaxID = *inv.BuyerTaxID
		}
		verify := "no"
		if inv.RequiresManualVerification {
			verify = "yes"
			flagged++
		}

		values := []any{
			inv.IssueDate.Format("2006-01-02"),
			inv.Number,
			inv.SellerName,
			inv.SellerTaxID,
			inv.BuyerName,
			buyerTaxID,
			inv.Currency,
			money(inv.NetTotal),
			money(inv.TaxTotal),
			money(inv.GrossTotal),
			inv.Confidence,
			verify,
			source,
		}
		if err := writeRow(f, InvoicesSheet, row, values); err != nil {
			return nil, err
		}
		style, moneyStyle := st.body, st.money
		if inv.RequiresManualVerification {
			style, moneyStyle = st.flagged, st.flaggedMoney
		}
		if err := styleRow(f, InvoicesSheet, row, len(values), style); err != nil {
			return nil, err
		}
		if err := styleCols(f, InvoicesSheet, row, invoiceMoneyCols, moneyStyle); err != nil {
			return nil, err
		}
		row++

		for _, l := range inv.Lines {
			if err := writeRow(f, LinesSheet, lineRow, []any{
				inv.Number,
				l.Position,
				truncate(l.Description, 140),
				l.Quantity,
				money(l.UnitNetPrice),
				l.TaxRate,
				money(l.NetAmount),
				money(l.TaxAmount),
				money(l.GrossAmount),
			}); err != nil {
				return nil, err
			}
			if err := styleCols(f, LinesSheet, lineRow, lineMoneyCols, st.money); err != nil {
				return nil, err
			}
			if err := styleCols(f, LinesSheet, lineRow, []int{lineQuantityCol}, st.quantity); err != nil {
				return nil, err
			}
			lineRow++
		}
	}

	_ = f.SetColWidth(InvoicesSheet, "A", "B", 16)
	_ = f.SetColWidth(InvoicesSheet, "C", "C", 32)
	_ = f.SetColWidth(InvoicesSheet, "D", "D", 14)
	_ = f.SetColWidth(InvoicesSheet, "E", "E", 32)
	_ = f.SetColWidth(InvoicesSheet, "F", "G", 14)
	_ = f.SetColWidth(InvoicesSheet, "H", "K", 12)
	_ = f.SetColWidth(InvoicesSheet, "L", "L", 28)
	_ = f.SetColWidth(InvoicesSheet, "M", "M", 40)
	_ = f.SetColWidth(LinesSheet, "C", "C", 48)
	_ = f.SetPanes(InvoicesSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	if row > 2 {
		last, _ := excelize.CoordinatesToCellName(len(invoiceHeaders), row-1)
		_ = f.AutoFilter(InvoicesSheet, "A1:"+last, nil)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("invoices exported",
		"owner_id", ownerID,
		"rows", len(invs),
		"flagged", flagged,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

type styles struct {
	header, body, flagged         int
	money, flaggedMoney, quantity int
}

const (
	moneyFormat    = 4 // #,##0.00
	quantityFormat = "0.######"
)

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return st, err
	}
	if st.body, err = f.NewStyle(&excelize.Style{}); err != nil {
		return st, err
	}
	flagFill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFE699"}}
	flagFont := &excelize.Font{Bold: true, Color: "9C5700"}
	if st.flagged, err = f.NewStyle(&excelize.Style{Fill: flagFill, Font: flagFont}); err != nil {
		return st, err
	}
	if st.flaggedMoney, err = f.NewStyle(&excelize.Style{Fill: flagFill, Font: flagFont, NumFmt: moneyFormat}); err != nil {
		return st, err
	}
	if st.money, err = f.NewStyle(&excelize.Style{NumFmt: moneyFormat}); err != nil {
		return st, err
	}
	qf := quantityFormat
	st.quantity, err = f.NewStyle(&excelize.Style{CustomNumFmt: &qf})
	return st, err
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	vals := make([]any, len(headers))
	for i, h := range headers {
		vals[i] = h
	}
	if err := writeRow(f, sheet, 1, vals); err != nil {
		return err
	}
	return styleRow(f, sheet, 1, len(headers), style)
}

// writeRow writes decimals as numeric cells carrying their exact digits.
func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if d, ok := v.(decimal.Decimal); ok {
			err = f.SetCellDefault(sheet, cell, d.String())
		} else {
			err = f.SetCellValue(sheet, cell, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func styleCols(f *excelize.File, sheet string, row int, cols []int, style int) error {
	for _, c := range cols {
		cell, err := excelize.CoordinatesToCellName(c, row)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, row, cols, style int) error {
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(cols, row)
	return f.SetCellStyle(sheet, first, last, style)
}

// money rounds an amount to grosze.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
