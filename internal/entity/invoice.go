package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Invoice represents a materialized invoice for data transfer between layers.
type Invoice struct {
	ID                         uuid.UUID           `json:"id"`
	DocumentID                 uuid.UUID           `json:"document_id"`
	OwnerID                    uuid.UUID           `json:"owner_id"`
	ExtractionID               uuid.UUID           `json:"extraction_id"`
	Number                     string              `json:"number"`
	IssueDate                  time.Time           `json:"issue_date"`
	SaleDate                   *time.Time          `json:"sale_date,omitempty"`
	DueDate                    *time.Time          `json:"due_date,omitempty"`
	SellerName                 string              `json:"seller_name"`
	SellerTaxID                string              `json:"seller_tax_id"`
	BuyerName                  string              `json:"buyer_name"`
	BuyerTaxID                 *string             `json:"buyer_tax_id,omitempty"`
	BuyerKind                  constants.BuyerKind `json:"buyer_kind"`
	Currency                   string              `json:"currency"`
	NetTotal                   decimal.Decimal     `json:"net_total"`
	TaxTotal                   decimal.Decimal     `json:"tax_total"`
	GrossTotal                 decimal.Decimal     `json:"gross_total"`
	Confidence                 float64             `json:"confidence"`
	RequiresManualVerification bool                `json:"requires_manual_verification"`
	CreatedAt                  time.Time           `json:"created_at"`
	Lines                      []InvoiceLine       `json:"lines"`
}

// InvoiceLine is one position of an invoice.
type InvoiceLine struct {
	ID           uuid.UUID       `json:"id"`
	InvoiceID    uuid.UUID       `json:"invoice_id"`
	Position     int             `json:"position"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitNetPrice decimal.Decimal `json:"unit_net_price"`
	TaxRate      string          `json:"tax_rate"` // percent as decimal string, or "zw"/"np"
	NetAmount    decimal.Decimal `json:"net_amount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
}
