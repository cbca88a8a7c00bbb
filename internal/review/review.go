// Package review takes reviewer corrections for documents the pipeline would
// not accept alone and feeds them back through the rules and the scorer.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/llm"
	"github.com/m3n3sx/faktulove3-sub000/internal/materialize"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
	"github.com/m3n3sx/faktulove3-sub000/internal/scoring"
)

// Correction is a reviewer's answer to a ticket. Fields maps field names to
// the printed values the reviewer read off the document.
type Correction struct {
	TicketID      uuid.UUID
	Reviewer      string
	Fields        map[string]string
	QualityRating *int
}

// Result is the state after a correction was applied.
type Result struct {
	Ticket     *entity.ReviewTicket
	Extraction *entity.Extraction
	Status     constants.DocumentStatus
	Invoice    *entity.Invoice
}

// Detail is what a reviewer needs to work a ticket.
type Detail struct {
	Ticket     *entity.ReviewTicket
	Document   *entity.Document
	Extraction *entity.Extraction
}

type Service struct {
	store        *repository.Store
	enhancer     *rules.Enhancer
	scorer       *scoring.Scorer
	materializer *materialize.Materializer
	decider      *decision.Engine
	bus          *pipeline.Bus
	schema       *llm.Validator
	leaseTTL     time.Duration
	logger       *slog.Logger
}

// DefaultLeaseTTL bounds how long a correction holds the document against
// the recovery sweep.
const DefaultLeaseTTL = 5 * time.Minute

type Option func(*Service)

// WithLeaseTTL sets the processing lease a correction holds. Zero keeps the default.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

func NewService(
	store *repository.Store,
	enhancer *rules.Enhancer,
	scorer *scoring.Scorer,
	materializer *materialize.Materializer,
	decider *decision.Engine,
	bus *pipeline.Bus,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := llm.NewValidator(llm.BuildCorrectionJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("correction schema: %w", err)
	}
	s := &Service{
		store:        store,
		enhancer:     enhancer,
		scorer:       scorer,
		materializer: materializer,
		decider:      decider,
		bus:          bus,
		schema:       schema,
		leaseTTL:     DefaultLeaseTTL,
		logger:       logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Service) List(ctx context.Context, status constants.TicketStatus) ([]*entity.ReviewTicket, error) {
	return s.store.Reviews.List(ctx, status)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Detail, error) {
	t, err := s.store.Reviews.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	doc, err := s.store.Documents.Get(ctx, t.DocumentID)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Ticket: t, Document: doc}
	if d.Extraction, err = s.store.Extractions.Active(ctx, t.DocumentID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return Detail{}, err
	}
	return d, nil
}

func (s *Service) validate(c Correction) error {
	v := common.NewValidator().Field("reviewer", c.Reviewer, common.Required, common.MaxLen(128))
	if c.QualityRating != nil {
		v.Field("quality_rating", *c.QualityRating, common.Between(1, 5))
	}
	if err := common.ValidationErrorFrom(v); err != nil {
		return err
	}
	doc := make(map[string]any, len(c.Fields))
	for k, val := range c.Fields {
		doc[k] = strings.TrimSpace(val)
	}
	if err := s.schema.ValidateValue(doc); err != nil {
		return common.NewValidationError(err.Error())
	}
	return nil
}

// Submit applies c to its ticket. The corrected values replace the engine's
// with full confidence, the rules and the scorer run again, and the document
// is decided anew: when every mandatory field is valid the invoice is
// written, otherwise the ticket reopens naming the fields still wrong.
// The document stays leased to the ticket until it rests again.
func (s *Service) Submit(ctx context.Context, c Correction) (Result, error) {
	logger := common.LoggerFromContext(ctx, s.logger).With("ticket_id", c.TicketID, "reviewer", c.Reviewer)

	if err := s.validate(c); err != nil {
		logger.Warn("correction rejected", "error", err)
		return Result{}, err
	}
	ticket, err := s.store.Reviews.Get(ctx, c.TicketID)
	if err != nil {
		return Result{}, err
	}
	if ticket.Status != constants.TicketOpen {
		return Result{}, fmt.Errorf("%w: ticket %s is %s", common.ErrConflict, ticket.ID, ticket.Status)
	}
	doc, err := s.store.Documents.Get(ctx, ticket.DocumentID)
	if err != nil {
		return Result{}, err
	}
	if doc.Status != constants.StatusReviewRequired {
		return Result{}, fmt.Errorf("%w: document %s is %s", common.ErrInvalidTransition, doc.ID, doc.Status)
	}

	holder := "review:" + ticket.ID.String()
	if err := s.store.Documents.AcquireLease(ctx, doc.ID, holder, s.leaseTTL); err != nil {
		logger.Warn("document busy, correction refused", "document_id", doc.ID, "error", err)
		return Result{}, err
	}
	defer func() {
		if rerr := s.store.Documents.ReleaseLease(context.WithoutCancel(ctx), doc.ID, holder); rerr != nil {
			logger.Error("failed to release correction lease", "document_id", doc.ID, "error", rerr)
		}
	}()

	base, err := s.store.Extractions.Active(ctx, doc.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return Result{}, err
	}
	ext := s.enhancer.Enhance(corrected(doc, base, c), doc.LocaleHint)
	score := s.scorer.Apply(ext)
	actor := constants.ActorReviewer + ":" + c.Reviewer

	err = s.store.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Extractions.Save(ctx, ext); err != nil {
			return err
		}
		if err := s.store.Reviews.SaveCorrections(ctx, ticket.ID, c.Fields, c.QualityRating, c.Reviewer); err != nil {
			return err
		}
		if err := s.store.Reviews.SetStatus(ctx, ticket.ID, constants.TicketOpen, constants.TicketCorrected,
			fmt.Sprintf("corrected %d fields", len(c.Fields))); err != nil {
			return err
		}
		_, err := s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventCorrected,
			From:       constants.StatusReviewRequired,
			Actor:      actor,
			Detail:     fmt.Sprintf("fields %s corrected, score %.2f", strings.Join(sortedKeys(c.Fields), ", "), score.Score),
			ClearError: true,
		})
		return err
	})
	if err != nil {
		logger.Error("failed to apply correction", "error", err)
		return Result{}, err
	}
	s.bus.Publish(ctx, pipeline.Event{DocumentID: doc.ID, Event: decision.EventCorrected, Status: constants.StatusDecided, Attempt: doc.Attempts, Score: score.Score})
	logger.Info("correction applied", "document_id", doc.ID, "score", score.Score, "mandatory_valid", ext.MandatoryValid())

	res := Result{Extraction: ext}
	if ext.MandatoryValid() && !ext.CriticalFailure {
		inv, err := s.materializer.Materialize(ctx, doc.ID, actor)
		switch {
		case err == nil:
			res.Invoice = inv
			res.Status = constants.StatusMaterialized
			s.bus.Publish(ctx, pipeline.Event{DocumentID: doc.ID, Event: decision.EventMaterialized, Status: res.Status, Attempt: doc.Attempts, Score: score.Score})
		case errors.Is(err, materialize.ErrRoutedToReview):
			res.Status = constants.StatusReviewRequired
			s.bus.Publish(ctx, pipeline.Event{DocumentID: doc.ID, Event: decision.EventMaterializeFailed, Status: res.Status, Attempt: doc.Attempts, Score: score.Score, Detail: err.Error()})
		default:
			// The correction is committed; keep it in front of a reviewer
			// rather than leaving the document decided.
			logger.Error("failed to materialize corrected document", "document_id", doc.ID, "error", err)
			reason := fmt.Sprintf("materialization failed after correction: %v", err)
			if rerr := s.reopen(context.WithoutCancel(ctx), doc, ext, actor, reason); rerr != nil {
				return Result{}, errors.Join(err, rerr)
			}
			return Result{}, err
		}
	} else {
		if err := s.reopen(ctx, doc, ext, actor, stillInvalid(ext)); err != nil {
			return Result{}, err
		}
		res.Status = constants.StatusReviewRequired
	}

	if res.Ticket, err = s.store.Reviews.Get(ctx, ticket.ID); err != nil {
		return Result{}, err
	}
	return res, nil
}

func stillInvalid(ext *entity.Extraction) string {
	var bad []string
	for _, f := range ext.Mandatory {
		if c := ext.Fields[f]; c.State != entity.FieldValid {
			bad = append(bad, fmt.Sprintf("%s %s", f, stateOrMissing(c.State)))
		}
	}
	return "still invalid after correction: " + strings.Join(bad, ", ")
}

// reopen sends the decided document back to the reviewer with reason.
func (s *Service) reopen(ctx context.Context, doc *entity.Document, ext *entity.Extraction, actor, reason string) error {
	severity := s.decider.Decide(decision.Input{
		Score:          ext.OverallConfidence,
		MandatoryValid: false,
		CriticalValid:  !ext.CriticalFailure,
	}).Severity()
	err := s.store.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventReview,
			From:       constants.StatusDecided,
			Actor:      actor,
			Detail:     reason,
		}); err != nil {
			return err
		}
		_, err := s.store.Reviews.Ensure(ctx, &entity.ReviewTicket{
			DocumentID:   doc.ID,
			ExtractionID: ext.ID,
			Severity:     severity,
			Reason:       reason,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, pipeline.Event{DocumentID: doc.ID, Event: decision.EventReview, Status: constants.StatusReviewRequired, Attempt: doc.Attempts, Score: ext.OverallConfidence, Detail: reason})
	s.logger.Info("correction incomplete, ticket reopened", "document_id", doc.ID, "reason", reason)
	return nil
}

// corrected builds the manual extraction: the previous engine reading with
// the reviewer's values laid over it at full confidence.
func corrected(doc *entity.Document, base *entity.Extraction, c Correction) *entity.Extraction {
	ext := &entity.Extraction{
		DocumentID:       doc.ID,
		Attempt:          doc.Attempts,
		EngineID:         constants.EngineManual,
		EngineVersion:    c.Reviewer,
		RawFields:        map[string]entity.Candidate{},
		EngineConfidence: 100,
	}
	if base != nil && base.ErrorMessage == nil {
		ext.RawText = base.RawText
		ext.RawLines = append([]entity.LineCandidate(nil), base.RawLines...)
		maps.Copy(ext.RawFields, base.RawFields)
	}
	for field, value := range c.Fields {
		ext.RawFields[field] = entity.Candidate{Value: strings.TrimSpace(value), Confidence: 100}
	}
	return ext
}

func stateOrMissing(s entity.FieldState) string {
	if s == entity.FieldUnchecked {
		return string(entity.FieldMissing)
	}
	return string(s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
