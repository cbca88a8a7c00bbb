package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

type InvoiceRepository interface {
	// Insert stores inv and its lines unless the document already has an
	// invoice, in which case created is false and nothing is written.
	Insert(ctx context.Context, inv *entity.Invoice) (created bool, err error)
	GetByDocument(ctx context.Context, documentID uuid.UUID) (*entity.Invoice, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Invoice, error)
}

type invoiceRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewInvoiceRepository(db *DB, logger *slog.Logger) InvoiceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceRepository{db: db, logger: logger}
}

var invoiceSelect = []string{
	"id", "document_id", "owner_id", "extraction_id", "number", "issue_date", "sale_date", "due_date",
	"seller_name", "seller_tax_id", "buyer_name", "buyer_tax_id", "buyer_kind", "currency",
	"net_total", "tax_total", "gross_total", "confidence", "requires_manual_verification", "created_at",
}

var lineSelect = []string{
	"id", "invoice_id", "position", "description", "quantity", "unit_net_price", "tax_rate",
	"net_amount", "tax_amount", "gross_amount",
}

func (r *invoiceRepository) Insert(ctx context.Context, inv *entity.Invoice) (bool, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = r.db.now()
	}
	var buyerTaxID any
	if inv.BuyerTaxID != nil {
		buyerTaxID = *inv.BuyerTaxID
	}

	created := false
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := r.db.exec(ctx, r.db.builder().Insert(InvoicesTable.Name).
			Columns(invoiceSelect...).
			Values(inv.ID, inv.DocumentID, inv.OwnerID, inv.ExtractionID, inv.Number, inv.IssueDate,
				timeOrNil(inv.SaleDate), timeOrNil(inv.DueDate), inv.SellerName, inv.SellerTaxID, inv.BuyerName,
				buyerTaxID, string(inv.BuyerKind), inv.Currency, inv.NetTotal.StringFixed(2), inv.TaxTotal.StringFixed(2),
				inv.GrossTotal.StringFixed(2), inv.Confidence, inv.RequiresManualVerification, inv.CreatedAt).
			OnConflict(entsql.ConflictColumns("document_id"), entsql.DoNothing()))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true
		for i := range inv.Lines {
			l := &inv.Lines[i]
			if l.ID == uuid.Nil {
				l.ID = uuid.New()
			}
			l.InvoiceID = inv.ID
			if _, err := r.db.exec(ctx, r.db.builder().Insert(InvoiceLinesTable.Name).
				Columns(lineSelect...).
				Values(l.ID, l.InvoiceID, l.Position, l.Description, l.Quantity.String(), l.UnitNetPrice.StringFixed(2),
					l.TaxRate, l.NetAmount.StringFixed(2), l.TaxAmount.StringFixed(2), l.GrossAmount.StringFixed(2))); err != nil {
				return fmt.Errorf("insert line %d: %w", l.Position, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to insert invoice", "document_id", inv.DocumentID, "error", err)
		return false, err
	}
	return created, nil
}

func (r *invoiceRepository) GetByDocument(ctx context.Context, documentID uuid.UUID) (*entity.Invoice, error) {
	query, args := r.db.builder().Select(invoiceSelect...).
		From(entsql.Table(InvoicesTable.Name)).
		Where(entsql.EQ("document_id", documentID)).
		Query()
	inv, err := scanInvoice(r.db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice for document %s: %w", documentID, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get invoice", "document_id", documentID, "error", err)
		return nil, err
	}
	if inv.Lines, err = r.lines(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Invoice, error) {
	preds := []*entsql.Predicate{entsql.EQ("owner_id", ownerID)}
	if fromDate != nil {
		preds = append(preds, entsql.GTE("issue_date", fromDate.UTC()))
	}
	if toDate != nil {
		preds = append(preds, entsql.LTE("issue_date", toDate.UTC()))
	}
	rows, err := r.db.query(ctx, r.db.builder().Select(invoiceSelect...).
		From(entsql.Table(InvoicesTable.Name)).
		Where(entsql.And(preds...)).
		OrderBy("issue_date", "number"))
	if err != nil {
		r.logger.Error("failed to list invoices", "owner_id", ownerID, "error", err)
		return nil, err
	}
	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, inv := range out {
		if inv.Lines, err = r.lines(ctx, inv.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *invoiceRepository) lines(ctx context.Context, invoiceID uuid.UUID) ([]entity.InvoiceLine, error) {
	rows, err := r.db.query(ctx, r.db.builder().Select(lineSelect...).
		From(entsql.Table(InvoiceLinesTable.Name)).
		Where(entsql.EQ("invoice_id", invoiceID)).
		OrderBy("position"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entity.InvoiceLine
	for rows.Next() {
		var l entity.InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Position, &l.Description, &l.Quantity, &l.UnitNetPrice,
			&l.TaxRate, &l.NetAmount, &l.TaxAmount, &l.GrossAmount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanInvoice(s interface{ Scan(...any) error }) (*entity.Invoice, error) {
	var (
		inv               entity.Invoice
		saleDate, dueDate sql.NullTime
		buyerTaxID        sql.NullString
		buyerKind         string
	)
	if err := s.Scan(&inv.ID, &inv.DocumentID, &inv.OwnerID, &inv.ExtractionID, &inv.Number, &inv.IssueDate,
		&saleDate, &dueDate, &inv.SellerName, &inv.SellerTaxID, &inv.BuyerName, &buyerTaxID, &buyerKind,
		&inv.Currency, &inv.NetTotal, &inv.TaxTotal, &inv.GrossTotal, &inv.Confidence,
		&inv.RequiresManualVerification, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.IssueDate = inv.IssueDate.UTC()
	inv.SaleDate = nullTime(saleDate)
	inv.DueDate = nullTime(dueDate)
	inv.BuyerTaxID = nullString(buyerTaxID)
	inv.BuyerKind = constants.BuyerKind(buyerKind)
	return &inv, nil
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
