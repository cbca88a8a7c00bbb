package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/review"
)

func (h *Handler) ListReviews(c *gin.Context) {
	st := constants.TicketStatus(c.DefaultQuery("status", string(constants.TicketOpen)))
	v := common.NewValidator()
	v.Field("status", string(st), common.OneOf(string(constants.TicketOpen), string(constants.TicketCorrected), string(constants.TicketClosed)))
	if err := common.ValidationErrorFrom(v); err != nil {
		h.fail(c, err)
		return
	}
	tickets, err := h.sys.Reviews.List(c.Request.Context(), st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *Handler) GetReview(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	d, err := h.sys.Reviews.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": d.Ticket, "document": d.Document, "extraction": d.Extraction})
}

type correctionRequest struct {
	Reviewer      string            `json:"reviewer"`
	Fields        map[string]string `json:"fields"`
	QualityRating *int              `json:"quality_rating"`
}

func (h *Handler) SubmitCorrection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, common.NewValidationError("malformed correction: "+err.Error()))
		return
	}
	res, err := h.sys.Reviews.Submit(c.Request.Context(), review.Correction{
		TicketID:      id,
		Reviewer:      req.Reviewer,
		Fields:        req.Fields,
		QualityRating: req.QualityRating,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{
		"ticket":     res.Ticket,
		"status":     res.Status,
		"confidence": res.Extraction.OverallConfidence,
	}
	if res.Invoice != nil {
		body["invoice"] = res.Invoice
	}
	c.JSON(http.StatusOK, body)
}
