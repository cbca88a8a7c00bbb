package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// ReviewTicket is a unit of human work on a document the pipeline would not accept alone.
type ReviewTicket struct {
	ID            uuid.UUID                `json:"id"`
	DocumentID    uuid.UUID                `json:"document_id"`
	ExtractionID  uuid.UUID                `json:"extraction_id"`
	Status        constants.TicketStatus   `json:"status"`
	Severity      constants.TicketSeverity `json:"severity"`
	Reason        string                   `json:"reason"`
	Corrections   map[string]string        `json:"corrections,omitempty"`
	QualityRating *int                     `json:"quality_rating,omitempty"`
	Reviewer      *string                  `json:"reviewer,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}
