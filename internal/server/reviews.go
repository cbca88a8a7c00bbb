package server

import (
	"context"
	"encoding/base64"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/review"
)

func (s *PipelineServer) SubmitCorrection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ticket, err := uuidField(req, "ticket_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	fields, err := stringMap(req, "fields")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	res, err := s.reviews.Submit(ctx, review.Correction{
		TicketID:      ticket,
		Reviewer:      str(req, "reviewer"),
		Fields:        fields,
		QualityRating: optionalInt(req, "quality_rating"),
	})
	if err != nil {
		return nil, common.GRPCError(err)
	}
	body := map[string]any{
		"ticket":     res.Ticket,
		"status":     res.Status,
		"confidence": res.Extraction.OverallConfidence,
	}
	if res.Invoice != nil {
		body["invoice_id"] = res.Invoice.ID
	}
	return toStruct(body)
}

func (s *PipelineServer) ListReviewTickets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	st := constants.TicketStatus(str(req, "status"))
	if st == "" {
		st = constants.TicketOpen
	}
	v := common.NewValidator()
	v.Field("status", string(st), common.OneOf(string(constants.TicketOpen), string(constants.TicketCorrected), string(constants.TicketClosed)))
	if err := common.ValidationErrorFrom(v); err != nil {
		return nil, common.GRPCError(err)
	}
	tickets, err := s.reviews.List(ctx, st)
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{"tickets": tickets})
}

// ExportInvoices returns the owner's invoices as a base64 XLSX workbook.
// Only from given means from..today.
func (s *PipelineServer) ExportInvoices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := uuidField(req, "owner_id")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	from, err := dateField(req, "from_date")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	to, err := dateField(req, "to_date")
	if err != nil {
		return nil, common.GRPCError(err)
	}
	if from != nil && to == nil {
		today := s.now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		to = &t
	}
	xlsx, err := s.exporter.ExportInvoicesXLSX(ctx, owner, from, to)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("export.xlsx.failed", "owner_id", owner, "err", err)
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{"xlsx_base64": base64.StdEncoding.EncodeToString(xlsx), "size_bytes": len(xlsx)})
}
