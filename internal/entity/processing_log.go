package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// ProcessingLogEntry is one append-only status transition. FromStatus is empty
// for the entry that creates the document.
type ProcessingLogEntry struct {
	ID         uuid.UUID                `json:"id"`
	DocumentID uuid.UUID                `json:"document_id"`
	FromStatus constants.DocumentStatus `json:"from_status,omitempty"`
	ToStatus   constants.DocumentStatus `json:"to_status"`
	Actor      string                   `json:"actor"`
	Detail     string                   `json:"detail,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
}
