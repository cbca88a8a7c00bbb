package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/materialize"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

// extractStage loads the stored bytes and runs the engine. A failed engine
// call is kept as an extraction attempt carrying the error.
func (p *Processor) extractStage(ctx context.Context, doc *entity.Document) (extract.Output, error) {
	content, err := p.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return extract.Output{}, extract.Unsupported(fmt.Errorf("stored document: %w", err))
		}
		return extract.Output{}, extract.Unavailable(fmt.Errorf("load stored document: %w", err))
	}

	out, err := p.engine.Extract(ctx, extract.Input{
		Content:    content,
		MIMEType:   doc.ContentType,
		LocaleHint: doc.LocaleHint,
		Filename:   doc.Filename,
	})
	if err != nil {
		if !cancelledBy(ctx) {
			msg := err.Error()
			attempt := &entity.Extraction{
				DocumentID:   doc.ID,
				Attempt:      doc.Attempts,
				EngineID:     p.engine.EngineID(),
				ErrorMessage: &msg,
			}
			if serr := p.store.Extractions.Save(context.WithoutCancel(ctx), attempt); serr != nil {
				p.logger.Error("failed to record extraction attempt", "document_id", doc.ID, "error", serr)
			}
		}
		return extract.Output{}, err
	}
	return out, nil
}

// refineStage applies the country rules and the scorer, then stores the
// extraction together with the scored transition.
func (p *Processor) refineStage(ctx context.Context, doc *entity.Document, out extract.Output) (*entity.Extraction, error) {
	if err := p.checkpoint(ctx, doc.ID); err != nil {
		return nil, err
	}
	if _, err := p.move(ctx, repository.Transition{
		DocumentID: doc.ID,
		Event:      decision.EventExtracted,
		From:       constants.StatusExtracting,
		Actor:      constants.ActorSystem,
		Detail:     fmt.Sprintf("%s read %d fields, %d lines, confidence %.2f", out.EngineID, len(out.Fields), len(out.LineItems), out.OverallConfidence),
	}, out.OverallConfidence); err != nil {
		return nil, err
	}

	raw := out.Extraction()
	raw.DocumentID = doc.ID
	raw.Attempt = doc.Attempts
	ext := p.enhancer.Enhance(raw, doc.LocaleHint)

	if err := p.checkpoint(ctx, doc.ID); err != nil {
		return nil, err
	}
	if _, err := p.move(ctx, repository.Transition{
		DocumentID: doc.ID,
		Event:      decision.EventEnhanced,
		From:       constants.StatusEnhancing,
		Actor:      constants.ActorSystem,
		Detail:     fmt.Sprintf("ruleset %s, buyer %s, %d adjustments", ext.Ruleset, ext.BuyerKind, len(ext.Adjustments)),
	}, 0); err != nil {
		return nil, err
	}

	score := p.scorer.Apply(ext)

	if err := p.checkpoint(ctx, doc.ID); err != nil {
		return nil, err
	}
	var scored *entity.Document
	err := p.store.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := p.store.Extractions.Save(ctx, ext); err != nil {
			return err
		}
		var err error
		scored, err = p.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventScored,
			From:       constants.StatusScoring,
			Actor:      constants.ActorSystem,
			Detail: fmt.Sprintf("score %.2f (engine %.2f, fields %.2f, consistency %.2f, penalty %.2f, capped %t)",
				score.Score, score.Engine, score.FieldScore, score.Consistency, score.Penalty, score.Capped),
			ClearError: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.bus.Publish(ctx, Event{DocumentID: doc.ID, Event: decision.EventScored, Status: scored.Status, Attempt: scored.Attempts, Score: score.Score})
	return ext, nil
}

// decideStage routes a scored document to an invoice or a reviewer.
func (p *Processor) decideStage(ctx context.Context, doc *entity.Document, ext *entity.Extraction) (Result, error) {
	outcome := p.decider.Decide(decision.Input{
		Score:          ext.OverallConfidence,
		MandatoryValid: ext.MandatoryValid(),
		CriticalValid:  !ext.CriticalFailure,
	})
	res := Result{DocumentID: doc.ID, Attempt: doc.Attempts, Score: ext.OverallConfidence, Route: outcome.Route}

	if err := p.checkpoint(ctx, doc.ID); err != nil {
		return res, err
	}

	if outcome.Route == decision.RouteAccept {
		inv, err := p.materializer.Materialize(ctx, doc.ID, constants.ActorSystem)
		switch {
		case err == nil:
			res.Status = constants.StatusMaterialized
			res.Invoice = inv
			p.bus.Publish(ctx, Event{DocumentID: doc.ID, Event: decision.EventMaterialized, Status: res.Status, Attempt: doc.Attempts, Score: res.Score, Detail: outcome.Rationale})
			return res, nil
		case errors.Is(err, materialize.ErrRoutedToReview):
			res.Status = constants.StatusReviewRequired
			p.bus.Publish(ctx, Event{DocumentID: doc.ID, Event: decision.EventMaterializeFailed, Status: res.Status, Attempt: doc.Attempts, Score: res.Score, Detail: err.Error()})
			return res, nil
		}
		return res, err
	}

	var reviewed *entity.Document
	err := p.store.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		reviewed, err = p.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventReview,
			From:       constants.StatusDecided,
			Actor:      constants.ActorSystem,
			Detail:     outcome.Rationale,
		})
		if err != nil {
			return err
		}
		_, err = p.store.Reviews.Ensure(ctx, &entity.ReviewTicket{
			DocumentID:   doc.ID,
			ExtractionID: ext.ID,
			Severity:     outcome.Severity(),
			Reason:       outcome.Rationale,
		})
		return err
	})
	if err != nil {
		return res, err
	}
	res.Status = reviewed.Status
	p.bus.Publish(ctx, Event{DocumentID: doc.ID, Event: decision.EventReview, Status: res.Status, Attempt: doc.Attempts, Score: res.Score, Detail: outcome.Rationale})
	return res, nil
}
