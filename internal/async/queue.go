package async

import (
	"context"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
)

// Queue accepts documents for background processing.
type Queue interface {
	// Reserve claims a queue slot without blocking, or fails with ErrSystemBusy.
	Reserve() (*Reservation, error)
	Enqueue(ctx context.Context, documentID uuid.UUID) error
	CancelInFlight(documentID uuid.UUID) bool
	Shutdown(ctx context.Context)
}

// Runner is the work done per task. *pipeline.Processor implements it.
type Runner interface {
	Process(ctx context.Context, documentID uuid.UUID, workerID string) (pipeline.Result, error)
	HandleFailure(ctx context.Context, doc *entity.Document, err error) (pipeline.Result, error)
}
