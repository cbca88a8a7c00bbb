// Package pipeline runs one document through extraction, refinement,
// scoring and the routing decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/materialize"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
	"github.com/m3n3sx/faktulove3-sub000/internal/scoring"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

// Extractor is the engine stage. *extract.Adapter implements it.
type Extractor interface {
	EngineID() string
	Extract(ctx context.Context, in extract.Input) (extract.Output, error)
}

type Config struct {
	MaxAttempts int // default 3
	Backoff     Backoff
}

// Result is where one Process call left the document.
type Result struct {
	DocumentID uuid.UUID
	Status     constants.DocumentStatus
	Attempt    int
	Score      float64
	Route      decision.Route
	Invoice    *entity.Invoice
}

// Processor coordinates the engine, the country rules, the scorer and the
// decision for one document at a time. It is safe for concurrent use on
// different documents.
type Processor struct {
	store        *repository.Store
	blobs        storage.Store
	engine       Extractor
	enhancer     *rules.Enhancer
	scorer       *scoring.Scorer
	decider      *decision.Engine
	materializer *materialize.Materializer
	bus          *Bus
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewProcessor(
	store *repository.Store,
	blobs storage.Store,
	engine Extractor,
	enhancer *rules.Enhancer,
	scorer *scoring.Scorer,
	decider *decision.Engine,
	materializer *materialize.Materializer,
	bus *Bus,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Processor{
		store:        store,
		blobs:        blobs,
		engine:       engine,
		enhancer:     enhancer,
		scorer:       scorer,
		decider:      decider,
		materializer: materializer,
		bus:          bus,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Bus returns the bus stage events are published on.
func (p *Processor) Bus() *Bus { return p.bus }

// Process takes a queued document through every stage. Engine failures are
// recorded on the document (retry_pending or failed) and reported in the
// Result, not as an error. The error is non-nil only when the document could
// not be moved at all, for example because it is no longer queued.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID, workerID string) (Result, error) {
	logger := common.LoggerFromContext(ctx, p.logger).With("document_id", documentID, "worker_id", workerID)

	doc, err := p.store.Documents.Get(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	if doc.CancelRequested {
		return p.cancel(ctx, doc, "cancelled before processing")
	}
	doc, err = p.move(ctx, repository.Transition{
		DocumentID:        documentID,
		Event:             decision.EventDequeued,
		From:              constants.StatusQueued,
		Actor:             constants.ActorSystem,
		Detail:            "picked up by " + workerID,
		IncrementAttempts: true,
	}, 0)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With("attempt", doc.Attempts)
	logger.Info("processing document")

	out, err := p.extractStage(ctx, doc)
	if err != nil {
		return p.HandleFailure(ctx, doc, err)
	}

	ext, err := p.refineStage(ctx, doc, out)
	if err != nil {
		return p.HandleFailure(ctx, doc, err)
	}

	res, err := p.decideStage(ctx, doc, ext)
	if err != nil {
		return p.HandleFailure(ctx, doc, err)
	}
	logger.Info("document processed", "status", res.Status, "score", res.Score, "route", res.Route)
	return res, nil
}

// checkpoint stops the run when the owner asked for cancellation, either
// through the context or through the stored flag.
func (p *Processor) checkpoint(ctx context.Context, documentID uuid.UUID) error {
	if cancelledBy(ctx) {
		return common.ErrCancelled
	}
	doc, err := p.store.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.CancelRequested {
		return common.ErrCancelled
	}
	return ctx.Err()
}

func cancelledBy(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), common.ErrCancelled)
}

// HandleFailure records err against doc. Cancellations end in cancelled;
// everything else goes through the decision engine's failure routing.
func (p *Processor) HandleFailure(ctx context.Context, doc *entity.Document, err error) (Result, error) {
	wctx := context.WithoutCancel(ctx)
	logger := p.logger.With("document_id", doc.ID, "attempt", doc.Attempts)

	if errors.Is(err, common.ErrInvalidTransition) {
		logger.Warn("document moved under the worker", "error", err)
		return Result{}, err
	}
	if errors.Is(err, common.ErrCancelled) || cancelledBy(ctx) {
		return p.cancel(wctx, doc, "cancelled by owner")
	}
	if fresh, gerr := p.store.Documents.Get(wctx, doc.ID); gerr == nil {
		if fresh.CancelRequested {
			return p.cancel(wctx, fresh, "cancelled by owner")
		}
		doc = fresh
	}

	failure := decision.FailureTransient
	if common.IsPermanent(err) {
		failure = decision.FailurePermanent
	}
	outcome := p.decider.Decide(decision.Input{Failure: failure, Attempt: doc.Attempts, MaxAttempts: p.cfg.MaxAttempts})
	msg := err.Error()
	res := Result{DocumentID: doc.ID, Attempt: doc.Attempts, Route: outcome.Route}

	switch {
	case outcome.Route == decision.RouteRetry:
		next := p.now().UTC().Add(p.cfg.Backoff.Delay(doc.Attempts))
		d, terr := p.move(wctx, repository.Transition{
			DocumentID:    doc.ID,
			Event:         decision.EventTransientFailure,
			Actor:         constants.ActorSystem,
			Detail:        fmt.Sprintf("%s: %s", outcome.Rationale, msg),
			LastError:     &msg,
			NextAttemptAt: &next,
		}, 0)
		if terr != nil {
			return Result{}, terr
		}
		res.Status = d.Status
		logger.Warn("transient failure, retry scheduled", "next_attempt_at", next, "error", err)

	case failure == decision.FailureTransient:
		// Exhausted: the last transient failure is still logged on the way to failed.
		var events []Event
		terr := p.store.DB.WithTx(wctx, func(tctx context.Context) error {
			d, err := p.store.Documents.Transition(tctx, repository.Transition{
				DocumentID: doc.ID,
				Event:      decision.EventTransientFailure,
				Actor:      constants.ActorSystem,
				Detail:     msg,
				LastError:  &msg,
			})
			if err != nil {
				return err
			}
			events = append(events, Event{DocumentID: doc.ID, Event: decision.EventTransientFailure, Status: d.Status, Attempt: d.Attempts, Detail: msg})
			d, err = p.store.Documents.Transition(tctx, repository.Transition{
				DocumentID: doc.ID,
				Event:      decision.EventExhausted,
				From:       constants.StatusRetryPending,
				Actor:      constants.ActorSystem,
				Detail:     outcome.Rationale,
				LastError:  &msg,
			})
			if err != nil {
				return err
			}
			events = append(events, Event{DocumentID: doc.ID, Event: decision.EventExhausted, Status: d.Status, Attempt: d.Attempts, Detail: outcome.Rationale})
			return nil
		})
		if terr != nil {
			return Result{}, terr
		}
		for _, ev := range events {
			p.bus.Publish(wctx, ev)
		}
		res.Status = constants.StatusFailed
		logger.Error("retries exhausted", "error", err)

	default:
		d, terr := p.move(wctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventPermanentFailure,
			Actor:      constants.ActorSystem,
			Detail:     fmt.Sprintf("%s: %s", outcome.Rationale, msg),
			LastError:  &msg,
		}, 0)
		if terr != nil {
			return Result{}, terr
		}
		res.Status = d.Status
		logger.Error("permanent failure", "error", err)
	}
	return res, nil
}

func (p *Processor) cancel(ctx context.Context, doc *entity.Document, detail string) (Result, error) {
	d, err := p.move(ctx, repository.Transition{
		DocumentID: doc.ID,
		Event:      decision.EventCancel,
		Actor:      constants.ActorSystem,
		Detail:     detail,
	}, 0)
	if err != nil {
		return Result{}, err
	}
	p.logger.Info("document cancelled", "document_id", doc.ID, "from_status", doc.Status)
	return Result{DocumentID: doc.ID, Status: d.Status, Attempt: d.Attempts}, nil
}

// move applies t and publishes the resulting event.
func (p *Processor) move(ctx context.Context, t repository.Transition, score float64) (*entity.Document, error) {
	d, err := p.store.Documents.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	p.bus.Publish(ctx, Event{
		DocumentID:    d.ID,
		Event:         t.Event,
		Status:        d.Status,
		Attempt:       d.Attempts,
		Score:         score,
		NextAttemptAt: d.NextAttemptAt,
		Detail:        t.Detail,
	})
	return d, nil
}
