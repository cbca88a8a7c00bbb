package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

// Unavailable marks err as a transient engine failure.
func Unavailable(err error) error { return classify(common.ErrEngineUnavailable, err) }

// Timeout marks err as an engine deadline.
func Timeout(err error) error { return classify(common.ErrEngineTimeout, err) }

// Unsupported marks err as a document the engine can never read.
func Unsupported(err error) error { return classify(common.ErrUnsupportedFormat, err) }

func classify(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// Normalize maps err onto exactly one engine error class. A cancellation
// requested by the owner is passed through unchanged.
func Normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, common.ErrCancelled) {
		return cause
	}
	switch {
	case errors.Is(err, common.ErrUnsupportedFormat),
		errors.Is(err, common.ErrEngineTimeout),
		errors.Is(err, common.ErrEngineUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Timeout(err)
	}
	return Unavailable(err)
}
