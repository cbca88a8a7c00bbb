// Package materialize writes accepted extractions out as invoices.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

// ErrRoutedToReview reports that the invoice could not be written and the
// document was handed to a reviewer instead.
var ErrRoutedToReview = errors.New("materialization failed, document routed to review")

// Options configure a Materializer.
type Options struct {
	AutoAccept float64
	Tolerance  decimal.Decimal
}

type Materializer struct {
	store  *repository.Store
	opts   Options
	logger *slog.Logger
}

func New(store *repository.Store, opts Options, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AutoAccept == 0 {
		opts.AutoAccept = decision.DefaultThresholds.AutoAccept
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = decimal.New(2, -2)
	}
	return &Materializer{store: store, opts: opts, logger: logger}
}

// Materialize writes the invoice for a decided document. Running it again for
// a document that already has an invoice returns that invoice. When the
// invoice cannot be built or written, nothing is kept, the document moves to
// review_required with an attention ticket, and ErrRoutedToReview is returned.
func (m *Materializer) Materialize(ctx context.Context, documentID uuid.UUID, actor string) (*entity.Invoice, error) {
	logger := common.LoggerFromContext(ctx, m.logger).With("document_id", documentID)

	doc, err := m.store.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == constants.StatusMaterialized {
		return m.store.Invoices.GetByDocument(ctx, documentID)
	}
	if doc.Status != constants.StatusDecided {
		return nil, fmt.Errorf("%w: document %s is %s", common.ErrInvalidTransition, documentID, doc.Status)
	}

	ext, err := m.store.Extractions.Active(ctx, documentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, m.routeToReview(ctx, doc, uuid.Nil, actor, common.NewValidationError("no extraction to materialize"))
		}
		return nil, err
	}

	inv, err := Build(doc, ext, m.opts.AutoAccept, m.opts.Tolerance)
	if err != nil {
		logger.Warn("invoice failed validation", "extraction_id", ext.ID, "error", err)
		return nil, m.routeToReview(ctx, doc, ext.ID, actor, err)
	}

	err = m.store.DB.WithTx(ctx, func(ctx context.Context) error {
		created, err := m.store.Invoices.Insert(ctx, inv)
		if err != nil {
			return err
		}
		if !created {
			return common.ErrMaterializationConflict
		}
		if _, err := m.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: documentID,
			Event:      decision.EventMaterialized,
			From:       constants.StatusDecided,
			Actor:      actor,
			Detail:     fmt.Sprintf("invoice %s (confidence %.2f, manual verification %t)", inv.Number, inv.Confidence, inv.RequiresManualVerification),
			ClearError: true,
		}); err != nil {
			return err
		}
		return m.closeTicket(ctx, documentID)
	})
	switch {
	case err == nil:
		logger.Info("invoice materialized",
			"invoice_id", inv.ID,
			"number", inv.Number,
			"confidence", inv.Confidence,
			"requires_manual_verification", inv.RequiresManualVerification,
			"lines", len(inv.Lines),
		)
		return inv, nil
	case errors.Is(err, common.ErrMaterializationConflict):
		logger.Info("invoice already materialized")
		return m.store.Invoices.GetByDocument(ctx, documentID)
	case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}
	logger.Error("failed to materialize invoice", "error", err)
	return nil, m.routeToReview(ctx, doc, ext.ID, actor, err)
}

func (m *Materializer) closeTicket(ctx context.Context, documentID uuid.UUID) error {
	t, err := m.store.Reviews.ActiveForDocument(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.store.Reviews.SetStatus(ctx, t.ID, t.Status, constants.TicketClosed, "")
}

// routeToReview runs in its own transaction after the failed one rolled back.
func (m *Materializer) routeToReview(ctx context.Context, doc *entity.Document, extractionID uuid.UUID, actor string, cause error) error {
	reason := fmt.Sprintf("materialization failed: %v", cause)
	err := m.store.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventMaterializeFailed,
			From:       constants.StatusDecided,
			Actor:      actor,
			Detail:     reason,
			LastError:  &reason,
		}); err != nil {
			return err
		}
		_, err := m.store.Reviews.Ensure(ctx, &entity.ReviewTicket{
			DocumentID:   doc.ID,
			ExtractionID: extractionID,
			Severity:     constants.SeverityAttention,
			Reason:       reason,
		})
		return err
	})
	if err != nil {
		m.logger.Error("failed to route document to review", "document_id", doc.ID, "error", err, "cause", cause)
		return fmt.Errorf("route to review: %w", err)
	}
	return fmt.Errorf("%w: %w", ErrRoutedToReview, cause)
}
