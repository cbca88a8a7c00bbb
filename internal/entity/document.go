package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Document represents one submitted file for data transfer between layers.
type Document struct {
	ID              uuid.UUID                `json:"id"`
	OwnerID         uuid.UUID                `json:"owner_id"`
	Filename        string                   `json:"filename"`
	StorageKey      string                   `json:"storage_key"`
	SizeBytes       int64                    `json:"size_bytes"`
	ContentType     string                   `json:"content_type"`
	ContentHash     string                   `json:"content_hash"`
	LocaleHint      string                   `json:"locale_hint,omitempty"`
	Status          constants.DocumentStatus `json:"status"`
	Attempts        int                      `json:"attempts"`
	LastError       *string                  `json:"last_error,omitempty"`
	CancelRequested bool                     `json:"cancel_requested"`
	LeaseOwner      *string                  `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time               `json:"lease_expires_at,omitempty"`
	NextAttemptAt   *time.Time               `json:"next_attempt_at,omitempty"`
	UploadedAt      time.Time                `json:"uploaded_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// LeaseLive reports whether some worker holds an unexpired lease at now.
func (d *Document) LeaseLive(now time.Time) bool {
	return d.LeaseOwner != nil && d.LeaseExpiresAt != nil && d.LeaseExpiresAt.After(now)
}
