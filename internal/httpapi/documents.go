package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/ingest"
)

// SubmitDocument accepts a multipart upload: file, owner_id and an optional locale.
func (h *Handler) SubmitDocument(c *gin.Context) {
	owner, err := uuid.Parse(strings.TrimSpace(c.PostForm("owner_id")))
	if err != nil {
		h.fail(c, common.NewValidationError("owner_id must be a UUID"))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, err)
			return
		}
		h.fail(c, common.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, err)
		return
	}
	declared := header.Header.Get("Content-Type")
	if declared == "application/octet-stream" {
		declared = ""
	}

	rec, err := h.sys.Ingest.Submit(c.Request.Context(), ingest.Upload{
		OwnerID:      owner,
		Filename:     header.Filename,
		Content:      content,
		DeclaredMIME: declared,
		LocaleHint:   c.PostForm("locale"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	code := http.StatusAccepted
	if rec.Deduplicated {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{
		"document_id":  rec.DocumentID,
		"status":       rec.Status,
		"deduplicated": rec.Deduplicated,
		"content_hash": rec.ContentHash,
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := h.sys.Ingest.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statusBody(v))
}

func (h *Handler) GetLog(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.sys.Ingest.Log(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "entries": entries})
}

type cancelRequest struct {
	OwnerID string `json:"owner_id" form:"owner_id"`
}

func (h *Handler) CancelDocument(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req cancelRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, common.NewValidationError("malformed request body"))
		return
	}
	owner, err := uuid.Parse(req.OwnerID)
	if err != nil {
		h.fail(c, common.NewValidationError("owner_id must be a UUID"))
		return
	}
	st, err := h.sys.Ingest.Cancel(c.Request.Context(), owner, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "status": st})
}

// RequeueDocument is the operator reset for failed, cancelled or
// review_required documents.
func (h *Handler) RequeueDocument(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	st, err := h.sys.Ingest.Requeue(c.Request.Context(), id, constants.ActorOperator)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"document_id": id, "status": st})
}

func (h *Handler) GetInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	inv, err := h.sys.Store.Invoices.GetByDocument(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func statusBody(v ingest.StatusView) gin.H {
	body := gin.H{
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
