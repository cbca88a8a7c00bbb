// Package httpapi is the REST surface of the pipeline.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/core"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

type Options struct {
	// MaxBodyBytes bounds uploads; multipart framing gets a little headroom.
	MaxBodyBytes int64
}

type Handler struct {
	sys    *core.System
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(sys *core.System, opts Options, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 << 20
	}
	h := &Handler{sys: sys, logger: logger, now: time.Now}

	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger), Recovery(logger))
	r.GET("/healthz", h.Health)

	api := r.Group("/api/v1")
	api.POST("/documents", BodyLimit(opts.MaxBodyBytes+64<<10), h.SubmitDocument)
	api.GET("/documents/:id", h.GetStatus)
	api.GET("/documents/:id/log", h.GetLog)
	api.POST("/documents/:id/cancel", h.CancelDocument)
	api.POST("/documents/:id/requeue", h.RequeueDocument)
	api.GET("/documents/:id/invoice", h.GetInvoice)
	api.GET("/reviews", h.ListReviews)
	api.GET("/reviews/:id", h.GetReview)
	api.POST("/reviews/:id/corrections", BodyLimit(1<<20), h.SubmitCorrection)
	api.GET("/invoices/export", h.ExportInvoices)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	if err := repository.HealthCheck(c.Request.Context(), h.sys.DB, 2*time.Second, h.logger); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": h.sys.Engine.Name(), "queued": h.sys.Scheduler.Pending()})
}

// fail writes err with the status it maps to. Internal errors are logged and
// hidden from the caller.
func (h *Handler) fail(c *gin.Context, err error) {
	code := common.HTTPStatus(err)
	msg := err.Error()
	if code >= 500 {
		common.LoggerFromContext(c.Request.Context(), h.logger).Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		code, msg = http.StatusRequestEntityTooLarge, "request body too large"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg, "request_id": GetRequestID(c)})
}

func pathID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, common.NewValidationError(name + " must be a UUID")
	}
	return id, nil
}

func parseDate(s, name string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, common.NewValidationError(name + " must be YYYY-MM-DD")
	}
	return &t, nil
}
