package repository

import (
	"context"
	"database/sql"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// ProcessingLogRepository is the append-only audit trail of status transitions.
type ProcessingLogRepository interface {
	Record(ctx context.Context, entry *entity.ProcessingLogEntry) error
	List(ctx context.Context, documentID uuid.UUID) ([]*entity.ProcessingLogEntry, error)
}

type processingLogRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewProcessingLogRepository(db *DB, logger *slog.Logger) ProcessingLogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &processingLogRepo{db: db, logger: logger}
}

func (r *processingLogRepo) Record(ctx context.Context, entry *entity.ProcessingLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.db.stamp()
	}
	var from any
	if entry.FromStatus != "" {
		from = string(entry.FromStatus)
	}
	_, err := r.db.exec(ctx, r.db.builder().Insert(ProcessingLogTable.Name).
		Columns("id", "document_id", "from_status", "to_status", "actor", "detail", "created_at").
		Values(entry.ID, entry.DocumentID, from, string(entry.ToStatus), entry.Actor, entry.Detail, entry.CreatedAt))
	if err != nil {
		r.logger.Error("failed to record processing log entry", "document_id", entry.DocumentID, "to_status", entry.ToStatus, "error", err)
		return err
	}
	return nil
}

func (r *processingLogRepo) List(ctx context.Context, documentID uuid.UUID) ([]*entity.ProcessingLogEntry, error) {
	rows, err := r.db.query(ctx, r.db.builder().
		Select("id", "document_id", "from_status", "to_status", "actor", "detail", "created_at").
		From(entsql.Table(ProcessingLogTable.Name)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy("created_at"))
	if err != nil {
		r.logger.Error("failed to list processing log", "document_id", documentID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ProcessingLogEntry
	for rows.Next() {
		var (
			e    entity.ProcessingLogEntry
			from sql.NullString
			to   string
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &from, &to, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus = constants.DocumentStatus(from.String)
		e.ToStatus = constants.DocumentStatus(to)
		out = append(out, &e)
	}
	return out, rows.Err()
}
