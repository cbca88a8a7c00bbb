// Package extract puts OCR engines behind one contract.
package extract

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

type AdapterConfig struct {
	AllowedMIME []string
	MaxBytes    int64
	Timeout     time.Duration // default 90s
}

// Adapter validates input, bounds the backend call and normalizes what comes back.
type Adapter struct {
	backend Backend
	cfg     AdapterConfig
	logger  *slog.Logger
}

func NewAdapter(backend Backend, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Adapter{backend: backend, cfg: cfg, logger: logger}
}

func (a *Adapter) EngineID() string { return a.backend.Name() }

func (a *Adapter) EngineVersion() string { return a.backend.Version() }

// Extract runs the backend. Errors are ValidationError for bad input, or one of
// EngineUnavailable, EngineTimeout and UnsupportedFormat.
func (a *Adapter) Extract(ctx context.Context, in Input) (Output, error) {
	mime, err := ValidateUpload(in.Content, in.MIMEType, a.cfg.AllowedMIME, a.cfg.MaxBytes)
	if err != nil {
		return Output{}, err
	}
	in.MIMEType = mime

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := a.backend.Extract(ctx, in)
	dur := time.Since(start)
	if err != nil {
		err = Normalize(ctx, err)
		a.logger.Warn("engine extraction failed",
			"engine", a.backend.Name(),
			"mime", mime,
			"duration_ms", dur.Milliseconds(),
			"error", err,
		)
		return Output{}, err
	}

	out.EngineID = a.backend.Name()
	out.EngineVersion = a.backend.Version()
	out.Duration = dur
	out.OverallConfidence = clamp(out.OverallConfidence)
	if out.Fields == nil {
		out.Fields = map[string]entity.Candidate{}
	}
	for k, c := range out.Fields {
		c.Confidence = clamp(c.Confidence)
		c.State = entity.FieldUnchecked
		out.Fields[k] = c
	}

	a.logger.Info("engine extraction finished",
		"engine", out.EngineID,
		"engine_version", out.EngineVersion,
		"mime", mime,
		"fields", len(out.Fields),
		"lines", len(out.LineItems),
		"confidence", out.OverallConfidence,
		"duration_ms", dur.Milliseconds(),
	)
	return out, nil
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
