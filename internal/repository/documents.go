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
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// Transition moves a document along the decision table and logs the move in
// the same transaction.
type Transition struct {
	DocumentID uuid.UUID
	Event      decision.Event
	// From, when set, must equal the current status.
	From   constants.DocumentStatus
	Actor  string
	Detail string

	// Optional side updates applied with the status change.
	IncrementAttempts bool
	ResetAttempts     bool
	LastError         *string
	ClearError        bool
	NextAttemptAt     *time.Time
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document, actor string) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByOwnerAndHash(ctx context.Context, ownerID uuid.UUID, hash string) (*entity.Document, error)
	ListByStatus(ctx context.Context, statuses ...constants.DocumentStatus) ([]*entity.Document, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*entity.Document, error)
	Transition(ctx context.Context, t Transition) (*entity.Document, error)
	RequestCancel(ctx context.Context, id uuid.UUID) error
	AcquireLease(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error
}

type documentRepo struct {
	db     *DB
	log    ProcessingLogRepository
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, log ProcessingLogRepository, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, log: log, logger: logger}
}

var documentSelect = []string{
	"id", "owner_id", "filename", "storage_key", "size_bytes", "content_type", "content_hash",
	"locale_hint", "status", "attempts", "last_error", "cancel_requested", "lease_owner",
	"lease_expires_at", "next_attempt_at", "uploaded_at", "updated_at",
}

func scanDocument(s interface{ Scan(...any) error }) (*entity.Document, error) {
	var (
		d                           entity.Document
		status                      string
		lastErr, leaseOwner         sql.NullString
		leaseExpires, nextAttemptAt sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.StorageKey, &d.SizeBytes, &d.ContentType, &d.ContentHash,
		&d.LocaleHint, &status, &d.Attempts, &lastErr, &d.CancelRequested, &leaseOwner,
		&leaseExpires, &nextAttemptAt, &d.UploadedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = constants.DocumentStatus(status)
	d.LastError = nullString(lastErr)
	d.LeaseOwner = nullString(leaseOwner)
	d.LeaseExpiresAt = nullTime(leaseExpires)
	d.NextAttemptAt = nullTime(nextAttemptAt)
	return &d, nil
}

// Create inserts doc in status uploaded and logs its creation.
func (r *documentRepo) Create(ctx context.Context, doc *entity.Document, actor string) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := r.db.now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	doc.UpdatedAt = now
	status, _ := decision.Next(decision.StatusNone, decision.EventSubmit)
	doc.Status = status

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.db.exec(ctx, r.db.builder().Insert(DocumentsTable.Name).
			Columns("id", "owner_id", "filename", "storage_key", "size_bytes", "content_type", "content_hash",
				"locale_hint", "status", "attempts", "cancel_requested", "uploaded_at", "updated_at").
			Values(doc.ID, doc.OwnerID, doc.Filename, doc.StorageKey, doc.SizeBytes, doc.ContentType, doc.ContentHash,
				doc.LocaleHint, string(doc.Status), 0, false, doc.UploadedAt, doc.UpdatedAt))
		if err != nil {
			r.logger.Error("failed to create document", "owner_id", doc.OwnerID, "filename", doc.Filename, "error", err)
			return err
		}
		return r.log.Record(ctx, &entity.ProcessingLogEntry{
			DocumentID: doc.ID,
			ToStatus:   doc.Status,
			Actor:      actor,
			Detail:     fmt.Sprintf("received %s (%d bytes)", doc.Filename, doc.SizeBytes),
		})
	})
}

func (r *documentRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	query, args := r.db.builder().Select(documentSelect...).
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	d, err := scanDocument(r.db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get document", "document_id", id, "error", err)
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) GetByOwnerAndHash(ctx context.Context, ownerID uuid.UUID, hash string) (*entity.Document, error) {
	query, args := r.db.builder().Select(documentSelect...).
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.And(entsql.EQ("owner_id", ownerID), entsql.EQ("content_hash", hash))).
		OrderBy(entsql.Desc("uploaded_at")).
		Limit(1).
		Query()
	d, err := scanDocument(r.db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document with hash %s: %w", hash, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get document by owner and hash", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) ListByStatus(ctx context.Context, statuses ...constants.DocumentStatus) ([]*entity.Document, error) {
	vals := make([]any, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	return r.list(ctx, r.db.builder().Select(documentSelect...).
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.In("status", vals...)).
		OrderBy("uploaded_at"))
}

func (r *documentRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*entity.Document, error) {
	sel := r.db.builder().Select(documentSelect...).
		From(entsql.Table(DocumentsTable.Name)).
		Where(entsql.EQ("owner_id", ownerID)).
		OrderBy(entsql.Desc("uploaded_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	return r.list(ctx, sel)
}

func (r *documentRepo) list(ctx context.Context, sel *entsql.Selector) ([]*entity.Document, error) {
	rows, err := r.db.query(ctx, sel)
	if err != nil {
		r.logger.Error("failed to list documents", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Transition applies t with a compare-and-set on the current status. A
// concurrent change or an illegal event yields ErrInvalidTransition and
// nothing is written.
func (r *documentRepo) Transition(ctx context.Context, t Transition) (*entity.Document, error) {
	var out *entity.Document
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		cur, err := r.Get(ctx, t.DocumentID)
		if err != nil {
			return err
		}
		if t.From != "" && cur.Status != t.From {
			return fmt.Errorf("%w: document %s is %s, expected %s", common.ErrInvalidTransition, t.DocumentID, cur.Status, t.From)
		}
		to, ok := decision.Next(cur.Status, t.Event)
		if !ok {
			return fmt.Errorf("%w: %s on %s", common.ErrInvalidTransition, t.Event, cur.Status)
		}

		now := r.db.now()
		upd := r.db.builder().Update(DocumentsTable.Name).
			Set("status", string(to)).
			Set("updated_at", now)
		if t.IncrementAttempts {
			upd = upd.Add("attempts", 1)
		}
		if t.ResetAttempts {
			upd = upd.Set("attempts", 0)
		}
		if t.LastError != nil {
			upd = upd.Set("last_error", *t.LastError)
		} else if t.ClearError {
			upd = upd.SetNull("last_error")
		}
		if t.NextAttemptAt != nil {
			upd = upd.Set("next_attempt_at", t.NextAttemptAt.UTC())
		} else {
			upd = upd.SetNull("next_attempt_at")
		}
		if to == constants.StatusQueued {
			upd = upd.Set("cancel_requested", false)
		}
		upd = upd.Where(entsql.And(entsql.EQ("id", t.DocumentID), entsql.EQ("status", string(cur.Status))))

		res, err := r.db.exec(ctx, upd)
		if err != nil {
			r.logger.Error("failed to update document status", "document_id", t.DocumentID, "to_status", to, "error", err)
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: document %s changed concurrently", common.ErrInvalidTransition, t.DocumentID)
		}

		if err := r.log.Record(ctx, &entity.ProcessingLogEntry{
			DocumentID: t.DocumentID,
			FromStatus: cur.Status,
			ToStatus:   to,
			Actor:      t.Actor,
			Detail:     t.Detail,
		}); err != nil {
			return err
		}
		out, err = r.Get(ctx, t.DocumentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("document transitioned", "document_id", t.DocumentID, "event", t.Event, "status", out.Status, "actor", t.Actor)
	return out, nil
}

func (r *documentRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.exec(ctx, r.db.builder().Update(DocumentsTable.Name).
		Set("cancel_requested", true).
		Set("updated_at", r.db.now()).
		Where(entsql.EQ("id", id)))
	if err != nil {
		r.logger.Error("failed to request cancel", "document_id", id, "error", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// AcquireLease grants owner exclusive processing of the document until ttl
// elapses. A live lease held by anyone, owner included, yields ErrLeaseHeld.
func (r *documentRepo) AcquireLease(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	now := r.db.now()
	res, err := r.db.exec(ctx, r.db.builder().Update(DocumentsTable.Name).
		Set("lease_owner", owner).
		Set("lease_expires_at", now.Add(ttl)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.Or(entsql.IsNull("lease_owner"), entsql.IsNull("lease_expires_at"), entsql.LTE("lease_expires_at", now)),
		)))
	if err != nil {
		r.logger.Error("failed to acquire lease", "document_id", id, "error", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("document %s: %w", id, common.ErrLeaseHeld)
	}
	return nil
}

func (r *documentRepo) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := r.db.exec(ctx, r.db.builder().Update(DocumentsTable.Name).
		SetNull("lease_owner").
		SetNull("lease_expires_at").
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("lease_owner", owner))))
	if err != nil {
		r.logger.Error("failed to release lease", "document_id", id, "error", err)
	}
	return err
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
