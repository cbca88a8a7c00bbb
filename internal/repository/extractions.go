package repository

import (
	"context"
	"database/sql"
	"encoding/json"
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

// ExtractionRepository stores immutable extraction attempts. Saving a new
// attempt supersedes the document's previous active one.
type ExtractionRepository interface {
	Save(ctx context.Context, e *entity.Extraction) error
	Active(ctx context.Context, documentID uuid.UUID) (*entity.Extraction, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Extraction, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*entity.Extraction, error)
}

type extractionRepo struct {
	db  *DB
	log *slog.Logger
}

func NewExtractionRepository(db *DB, log *slog.Logger) ExtractionRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractionRepo{db: db, log: log}
}

var extractionSelect = []string{
	"id", "document_id", "attempt", "engine_id", "engine_version", "raw_text", "raw_fields", "raw_lines",
	"fields", "lines", "engine_confidence", "overall_confidence", "field_confidence", "adjustments",
	"mandatory", "ruleset", "buyer_kind", "critical_failure", "duration_ms", "error_message", "superseded",
	"created_at",
}

func (r *extractionRepo) Save(ctx context.Context, e *entity.Extraction) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.db.now()
	}
	blobs, err := marshalAll(e.RawFields, e.RawLines, e.Fields, e.Lines, e.FieldConfidence, e.Adjustments, e.Mandatory)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	var errMsg any
	if e.ErrorMessage != nil {
		errMsg = *e.ErrorMessage
	}

	err = r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.exec(ctx, r.db.builder().Update(ExtractionsTable.Name).
			Set("superseded", true).
			Where(entsql.And(entsql.EQ("document_id", e.DocumentID), entsql.EQ("superseded", false)))); err != nil {
			return err
		}
		_, err := r.db.exec(ctx, r.db.builder().Insert(ExtractionsTable.Name).
			Columns(extractionSelect...).
			Values(e.ID, e.DocumentID, e.Attempt, e.EngineID, e.EngineVersion, e.RawText, blobs[0], blobs[1],
				blobs[2], blobs[3], e.EngineConfidence, e.OverallConfidence, blobs[4], blobs[5],
				blobs[6], e.Ruleset, string(e.BuyerKind), e.CriticalFailure, e.Duration.Milliseconds(), errMsg, false,
				e.CreatedAt))
		return err
	})
	if err != nil {
		r.log.Error("extraction save failed", "document_id", e.DocumentID, "attempt", e.Attempt, "err", err)
		return err
	}
	e.Superseded = false
	r.log.Info("extraction saved", "extraction_id", e.ID, "document_id", e.DocumentID, "engine", e.EngineID, "confidence", e.OverallConfidence)
	return nil
}

func (r *extractionRepo) Active(ctx context.Context, documentID uuid.UUID) (*entity.Extraction, error) {
	return r.one(ctx, entsql.And(entsql.EQ("document_id", documentID), entsql.EQ("superseded", false)))
}

func (r *extractionRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Extraction, error) {
	return r.one(ctx, entsql.EQ("id", id))
}

func (r *extractionRepo) one(ctx context.Context, p *entsql.Predicate) (*entity.Extraction, error) {
	query, args := r.db.builder().Select(extractionSelect...).
		From(entsql.Table(ExtractionsTable.Name)).
		Where(p).
		Limit(1).
		Query()
	e, err := scanExtraction(r.db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction: %w", common.ErrNotFound)
	}
	return e, err
}

func (r *extractionRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*entity.Extraction, error) {
	rows, err := r.db.query(ctx, r.db.builder().Select(extractionSelect...).
		From(entsql.Table(ExtractionsTable.Name)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy("created_at"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*entity.Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExtraction(s interface{ Scan(...any) error }) (*entity.Extraction, error) {
	var (
		e                                                     entity.Extraction
		rawFields, rawLines, fields, lines, fieldConf, adj, m []byte
		buyerKind                                             string
		durationMS                                            int64
		errMsg                                                sql.NullString
	)
	if err := s.Scan(&e.ID, &e.DocumentID, &e.Attempt, &e.EngineID, &e.EngineVersion, &e.RawText, &rawFields, &rawLines,
		&fields, &lines, &e.EngineConfidence, &e.OverallConfidence, &fieldConf, &adj,
		&m, &e.Ruleset, &buyerKind, &e.CriticalFailure, &durationMS, &errMsg, &e.Superseded,
		&e.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalAll(
		rawFields, &e.RawFields,
		rawLines, &e.RawLines,
		fields, &e.Fields,
		lines, &e.Lines,
		fieldConf, &e.FieldConfidence,
		adj, &e.Adjustments,
		m, &e.Mandatory,
	); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	e.BuyerKind = constants.BuyerKind(buyerKind)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.ErrorMessage = nullString(errMsg)
	return &e, nil
}

// marshalAll encodes each value as a JSON column; nil values stay NULL.
func marshalAll(vs ...any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if string(b) == "null" {
			continue
		}
		out[i] = string(b)
	}
	return out, nil
}

// unmarshalAll decodes pairs of (column bytes, destination pointer).
func unmarshalAll(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		b, _ := pairs[i].([]byte)
		if len(b) == 0 {
			continue
		}
		if err := json.Unmarshal(b, pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}
