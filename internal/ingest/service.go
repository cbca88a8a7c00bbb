package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

// Submit admits one upload. Rejected content is never stored or queued. The
// same bytes submitted twice by one owner return the first document.
func (s *Service) Submit(ctx context.Context, up Upload) (Submission, error) {
	logger := common.LoggerFromContext(ctx, s.logger).With("owner_id", up.OwnerID, "filename", up.Filename)

	owner := ""
	if up.OwnerID != uuid.Nil {
		owner = up.OwnerID.String()
	}
	v := common.NewValidator().
		Field("owner_id", owner, common.Required).
		Field("filename", up.Filename, common.Required, common.MaxLen(255))
	if err := common.ValidationErrorFrom(v); err != nil {
		logger.Warn("upload rejected", "error", err)
		return Submission{}, err
	}
	mime, err := extract.ValidateUpload(up.Content, up.DeclaredMIME, s.opts.AllowedMIME, s.opts.MaxBytes)
	if err != nil {
		logger.Warn("upload rejected", "declared_mime", up.DeclaredMIME, "size_bytes", len(up.Content), "error", err)
		return Submission{}, err
	}

	st := s.acquireOwner(up.OwnerID)
	defer s.releaseOwner(st)
	if st.limiter != nil && !st.limiter.Allow() {
		logger.Warn("owner over admission rate")
		return Submission{}, fmt.Errorf("%w: too many uploads, slow down", common.ErrSystemBusy)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sum := sha256.Sum256(up.Content)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.store.Documents.GetByOwnerAndHash(ctx, up.OwnerID, hash)
	switch {
	case err == nil:
		logger.Info("duplicate upload", "document_id", existing.ID, "status", existing.Status)
		return Submission{DocumentID: existing.ID, Status: existing.Status, Deduplicated: true, ContentHash: hash}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Submission{}, err
	}

	res, err := s.queue.Reserve()
	if err != nil {
		logger.Warn("queue full, upload refused", "error", err)
		return Submission{}, err
	}

	locale := up.LocaleHint
	if locale == "" {
		locale = s.opts.LocaleDefault
	}
	doc := &entity.Document{
		ID:          uuid.New(),
		OwnerID:     up.OwnerID,
		Filename:    filepath.Base(up.Filename),
		SizeBytes:   int64(len(up.Content)),
		ContentType: mime,
		ContentHash: hash,
		LocaleHint:  locale,
	}
	doc.StorageKey = storage.Key(up.OwnerID.String(), hash, constants.ExtensionFor(mime))

	if err := s.blobs.Put(ctx, doc.StorageKey, up.Content, mime); err != nil {
		res.Release()
		logger.Error("failed to store upload", "error", err)
		return Submission{}, fmt.Errorf("store upload: %w", err)
	}

	var queued *entity.Document
	err = s.store.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Documents.Create(ctx, doc, constants.ActorIngest); err != nil {
			return err
		}
		if _, err := s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventValidate,
			From:       constants.StatusUploaded,
			Actor:      constants.ActorIngest,
			Detail:     "checking " + mime,
		}); err != nil {
			return err
		}
		queued, err = s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: doc.ID,
			Event:      decision.EventValidated,
			From:       constants.StatusValidating,
			Actor:      constants.ActorIngest,
			Detail:     fmt.Sprintf("%s, %d bytes", mime, doc.SizeBytes),
		})
		return err
	})
	if err != nil {
		res.Release()
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.StorageKey); derr != nil {
			logger.Warn("failed to remove orphaned upload", "storage_key", doc.StorageKey, "error", derr)
		}
		logger.Error("failed to record upload", "error", err)
		return Submission{}, err
	}
	s.bus.Publish(ctx, pipeline.Event{DocumentID: doc.ID, Event: decision.EventValidated, Status: queued.Status})

	if err := res.Submit(doc.ID); err != nil {
		// Stays queued in the store; recovery picks it up.
		logger.Warn("document stored but not scheduled", "document_id", doc.ID, "error", err)
	}
	logger.Info("document accepted", "document_id", doc.ID, "content_type", mime, "size_bytes", doc.SizeBytes)
	return Submission{DocumentID: doc.ID, Status: queued.Status, ContentHash: hash}, nil
}

// Status reports where a document is. Confidence is present once an
// extraction was scored; the manual verification flag once an invoice exists.
func (s *Service) Status(ctx context.Context, documentID uuid.UUID) (StatusView, error) {
	doc, err := s.store.Documents.Get(ctx, documentID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		DocumentID:    doc.ID,
		Filename:      doc.Filename,
		Status:        doc.Status,
		Attempts:      doc.Attempts,
		Error:         doc.LastError,
		NextAttemptAt: doc.NextAttemptAt,
		UpdatedAt:     doc.UpdatedAt,
	}

	ext, err := s.store.Extractions.Active(ctx, documentID)
	switch {
	case err == nil:
		if ext.ErrorMessage == nil {
			c := ext.OverallConfidence
			view.Confidence = &c
		}
	case !errors.Is(err, common.ErrNotFound):
		return StatusView{}, err
	}

	if doc.Status == constants.StatusMaterialized {
		inv, err := s.store.Invoices.GetByDocument(ctx, documentID)
		if err != nil {
			return StatusView{}, err
		}
		flag := inv.RequiresManualVerification
		view.RequiresManualVerification = &flag
	}
	return view, nil
}

// Log returns the document's transition history, oldest first.
func (s *Service) Log(ctx context.Context, documentID uuid.UUID) ([]*entity.ProcessingLogEntry, error) {
	if _, err := s.store.Documents.Get(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.Log.List(ctx, documentID)
}

// Cancel stops a document on behalf of its owner. Documents that are not
// being worked on are cancelled at once; running ones are interrupted and
// end in cancelled at the worker's next checkpoint.
func (s *Service) Cancel(ctx context.Context, ownerID, documentID uuid.UUID) (constants.DocumentStatus, error) {
	logger := common.LoggerFromContext(ctx, s.logger).With("document_id", documentID)

	doc, err := s.store.Documents.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc.OwnerID != ownerID {
		return "", fmt.Errorf("document %s: %w", documentID, common.ErrNotFound)
	}

	switch {
	case decision.CancelImmediate(doc.Status):
		d, err := s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID: documentID,
			Event:      decision.EventCancel,
			From:       doc.Status,
			Actor:      constants.ActorOwner,
			Detail:     "cancelled by owner",
		})
		if err != nil {
			return "", err
		}
		s.queue.CancelInFlight(documentID)
		s.bus.Publish(ctx, pipeline.Event{DocumentID: documentID, Event: decision.EventCancel, Status: d.Status, Attempt: d.Attempts})
		logger.Info("document cancelled", "from_status", doc.Status)
		return d.Status, nil

	case doc.Status.InFlight():
		if err := s.store.Documents.RequestCancel(ctx, documentID); err != nil {
			return "", err
		}
		running := s.queue.CancelInFlight(documentID)
		logger.Info("cancellation requested", "status", doc.Status, "running_here", running)
		return doc.Status, nil
	}
	return "", fmt.Errorf("%w: document %s is %s", common.ErrInvalidTransition, documentID, doc.Status)
}

// Requeue sends a failed, cancelled or reviewed document through the
// pipeline again with a fresh attempt budget.
func (s *Service) Requeue(ctx context.Context, documentID uuid.UUID, actor string) (constants.DocumentStatus, error) {
	res, err := s.queue.Reserve()
	if err != nil {
		return "", err
	}
	var queued *entity.Document
	err = s.store.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		queued, err = s.store.Documents.Transition(ctx, repository.Transition{
			DocumentID:    documentID,
			Event:         decision.EventOperatorReset,
			Actor:         actor,
			Detail:        "requeued by " + actor,
			ResetAttempts: true,
			ClearError:    true,
		})
		if err != nil {
			return err
		}
		t, err := s.store.Reviews.ActiveForDocument(ctx, documentID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.store.Reviews.SetStatus(ctx, t.ID, t.Status, constants.TicketClosed, "requeued")
	})
	if err != nil {
		res.Release()
		return "", err
	}
	s.bus.Publish(ctx, pipeline.Event{DocumentID: documentID, Event: decision.EventOperatorReset, Status: queued.Status})
	if err := res.Submit(documentID); err != nil {
		return "", err
	}
	s.logger.Info("document requeued", "document_id", documentID, "actor", actor)
	return queued.Status, nil
}
