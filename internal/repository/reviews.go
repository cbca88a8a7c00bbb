package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

type ReviewRepository interface {
	// Ensure returns the document's unclosed ticket, refreshed with t's
	// extraction, severity and reason, or inserts t as a new open ticket.
	Ensure(ctx context.Context, t *entity.ReviewTicket) (*entity.ReviewTicket, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.ReviewTicket, error)
	ActiveForDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error)
	List(ctx context.Context, status constants.TicketStatus) ([]*entity.ReviewTicket, error)
	// SetStatus is a compare-and-set on the ticket status.
	SetStatus(ctx context.Context, id uuid.UUID, from, to constants.TicketStatus, reason string) error
	SaveCorrections(ctx context.Context, id uuid.UUID, corrections map[string]string, rating *int, reviewer string) error
}

type reviewRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewReviewRepository(db *DB, logger *slog.Logger) ReviewRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &reviewRepo{db: db, logger: logger}
}

var ticketSelect = []string{
	"id", "document_id", "extraction_id", "status", "severity", "reason", "corrections",
	"quality_rating", "reviewer", "created_at", "updated_at",
}

func (r *reviewRepo) Ensure(ctx context.Context, t *entity.ReviewTicket) (*entity.ReviewTicket, error) {
	var out *entity.ReviewTicket
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		now := r.db.now()
		existing, err := r.ActiveForDocument(ctx, t.DocumentID)
		switch {
		case err == nil:
			if _, err := r.db.exec(ctx, r.db.builder().Update(ReviewTicketsTable.Name).
				Set("extraction_id", t.ExtractionID).
				Set("status", string(constants.TicketOpen)).
				Set("severity", string(t.Severity)).
				Set("reason", t.Reason).
				Set("updated_at", now).
				Where(entsql.EQ("id", existing.ID))); err != nil {
				return err
			}
			out, err = r.Get(ctx, existing.ID)
			return err
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.Status = constants.TicketOpen
		t.CreatedAt, t.UpdatedAt = now, now
		if _, err := r.db.exec(ctx, r.db.builder().Insert(ReviewTicketsTable.Name).
			Columns("id", "document_id", "extraction_id", "status", "severity", "reason", "created_at", "updated_at").
			Values(t.ID, t.DocumentID, t.ExtractionID, string(t.Status), string(t.Severity), t.Reason, now, now)); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		r.logger.Error("failed to ensure review ticket", "document_id", t.DocumentID, "error", err)
		return nil, err
	}
	return out, nil
}

func (r *reviewRepo) Get(ctx context.Context, id uuid.UUID) (*entity.ReviewTicket, error) {
	return r.one(ctx, entsql.EQ("id", id))
}

func (r *reviewRepo) ActiveForDocument(ctx context.Context, documentID uuid.UUID) (*entity.ReviewTicket, error) {
	return r.one(ctx, entsql.And(
		entsql.EQ("document_id", documentID),
		entsql.NEQ("status", string(constants.TicketClosed)),
	))
}

func (r *reviewRepo) one(ctx context.Context, p *entsql.Predicate) (*entity.ReviewTicket, error) {
	query, args := r.db.builder().Select(ticketSelect...).
		From(entsql.Table(ReviewTicketsTable.Name)).
		Where(p).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()
	t, err := scanTicket(r.db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review ticket: %w", common.ErrNotFound)
	}
	return t, err
}

func (r *reviewRepo) List(ctx context.Context, status constants.TicketStatus) ([]*entity.ReviewTicket, error) {
	sel := r.db.builder().Select(ticketSelect...).
		From(entsql.Table(ReviewTicketsTable.Name)).
		OrderBy("created_at")
	if status != "" {
		sel = sel.Where(entsql.EQ("status", string(status)))
	}
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to list review tickets", "status", status, "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []*entity.ReviewTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *reviewRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to constants.TicketStatus, reason string) error {
	upd := r.db.builder().Update(ReviewTicketsTable.Name).
		Set("status", string(to)).
		Set("updated_at", r.db.now())
	if reason != "" {
		upd = upd.Set("reason", reason)
	}
	res, err := r.db.exec(ctx, upd.Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(from)))))
	if err != nil {
		r.logger.Error("failed to update review ticket", "ticket_id", id, "error", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: ticket %s is not %s", common.ErrConflict, id, from)
	}
	return nil
}

func (r *reviewRepo) SaveCorrections(ctx context.Context, id uuid.UUID, corrections map[string]string, rating *int, reviewer string) error {
	blobs, err := marshalAll(corrections)
	if err != nil {
		return err
	}
	upd := r.db.builder().Update(ReviewTicketsTable.Name).
		Set("corrections", blobs[0]).
		Set("reviewer", reviewer).
		Set("updated_at", r.db.now())
	if rating != nil {
		upd = upd.Set("quality_rating", *rating)
	}
	_, err = r.db.exec(ctx, upd.Where(entsql.EQ("id", id)))
	if err != nil {
		r.logger.Error("failed to save corrections", "ticket_id", id, "error", err)
	}
	return err
}

func scanTicket(s interface{ Scan(...any) error }) (*entity.ReviewTicket, error) {
	var (
		t                entity.ReviewTicket
		status, severity string
		corrections      []byte
		rating           sql.NullInt64
		reviewer         sql.NullString
	)
	if err := s.Scan(&t.ID, &t.DocumentID, &t.ExtractionID, &status, &severity, &t.Reason, &corrections,
		&rating, &reviewer, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = constants.TicketStatus(status)
	t.Severity = constants.TicketSeverity(severity)
	if err := unmarshalAll(corrections, &t.Corrections); err != nil {
		return nil, err
	}
	if rating.Valid {
		v := int(rating.Int64)
		t.QualityRating = &v
	}
	t.Reviewer = nullString(reviewer)
	return &t, nil
}
