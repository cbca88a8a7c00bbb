package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/export"
	"github.com/m3n3sx/faktulove3-sub000/internal/ingest"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/review"
)

// PipelineServer implements DocumentPipelineServer over the services.
type PipelineServer struct {
	ingest   *ingest.Service
	reviews  *review.Service
	invoices repository.InvoiceRepository
	exporter *export.Service
	logger   *slog.Logger
	now      func() time.Time
}

func NewPipelineServer(ing *ingest.Service, reviews *review.Service, invoices repository.InvoiceRepository, exporter *export.Service, logger *slog.Logger) *PipelineServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineServer{ingest: ing, reviews: reviews, invoices: invoices, exporter: exporter, logger: logger, now: time.Now}
}

var _ DocumentPipelineServer = (*PipelineServer)(nil)

func (s *PipelineServer) SubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := uuidField(req, "owner_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	content, err := bytesField(req, "content_base64")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	rec, err := s.ingest.Submit(ctx, ingest.Upload{
		OwnerID:      owner,
		Filename:     str(req, "filename"),
		Content:      content,
		DeclaredMIME: str(req, "mime_type"),
		LocaleHint:   str(req, "locale"),
	})
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{
		"document_id":  rec.DocumentID,
		"status":       rec.Status,
		"deduplicated": rec.Deduplicated,
		"content_hash": rec.ContentHash,
	})
}

func (s *PipelineServer) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "document_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	v, err := s.ingest.Status(ctx, id)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(statusBody(v))
}

func (s *PipelineServer) GetLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "document_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	entries, err := s.ingest.Log(ctx, id)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{"document_id": id, "entries": entries})
}

func (s *PipelineServer) CancelDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := uuidField(req, "owner_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	id, err := uuidField(req, "document_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	st, err := s.ingest.Cancel(ctx, owner, id)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{"document_id": id, "status": st})
}

func (s *PipelineServer) GetInvoice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(req, "document_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	inv, err := s.invoices.GetByDocument(ctx, id)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(inv)
}

// statusBody omits fields that do not apply yet.
func statusBody(v ingest.StatusView) map[string]any {
	body := map[string]any{
		"document_id": v.DocumentID,
		"filename":    v.Filename,
		"status":      v.Status,
		"attempts":    v.Attempts,
		"updated_at":  v.UpdatedAt,
	}
	if v.Confidence != nil {
		body["confidence"] = *v.Confidence
	}
	if v.Error != nil {
		body["error"] = *v.Error
	}
	if v.RequiresManualVerification != nil {
		body["requires_manual_verification"] = *v.RequiresManualVerification
	}
	if v.NextAttemptAt != nil {
		body["next_attempt_at"] = *v.NextAttemptAt
	}
	return body
}
