package extract

import (
	"context"
	"log/slog"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/ocr"
)

// OCRBackend runs the local tesseract toolchain.
type OCRBackend struct {
	e      *ocr.Extractor
	logger *slog.Logger
}

func NewOCRBackend(e *ocr.Extractor, logger *slog.Logger) *OCRBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRBackend{e: e, logger: logger}
}

func (b *OCRBackend) Name() string { return constants.EngineTesseract }

func (b *OCRBackend) Version() string { return b.e.Version() }

func (b *OCRBackend) Extract(ctx context.Context, in Input) (Output, error) {
	r, err := b.e.ExtractBytes(ctx, in.Content, in.MIMEType)
	if err != nil {
		if len(r.Warnings) > 0 {
			b.logger.Debug("ocr warnings", "filename", in.Filename, "warnings", r.Warnings)
		}
		return Output{}, err
	}
	return Output{
		RawText:           r.Text,
		Fields:            r.Fields,
		LineItems:         r.Lines,
		OverallConfidence: r.Confidence,
		Pages:             r.Pages,
		Method:            r.Method,
		Warnings:          r.Warnings,
	}, nil
}
