package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportInvoices streams the owner's invoices as an XLSX workbook. Only from
// given means from..today.
func (h *Handler) ExportInvoices(c *gin.Context) {
	owner, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		h.fail(c, common.NewValidationError("owner_id must be a UUID"))
		return
	}
	from, err := parseDate(c.Query("from"), "from")
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := parseDate(c.Query("to"), "to")
	if err != nil {
		h.fail(c, err)
		return
	}
	if from != nil && to == nil {
		today := h.now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		to = &t
	}
	xlsx, err := h.sys.Exporter.ExportInvoicesXLSX(c.Request.Context(), owner, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	name := fmt.Sprintf("invoices-%s.xlsx", h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxMIME, xlsx)
}
