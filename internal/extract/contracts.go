package extract

import (
	"context"
	"time"

	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// Backend reads one document. Implementations return errors classified with
// Unavailable, Timeout or Unsupported; anything else is treated as Unavailable.
type Backend interface {
	Name() string
	Version() string
	Extract(ctx context.Context, in Input) (Output, error)
}

type Input struct {
	Content    []byte
	MIMEType   string
	LocaleHint string
	Filename   string
}

// Output is what an engine read. Confidences are 0..100.
type Output struct {
	RawText           string
	Fields            map[string]entity.Candidate
	LineItems         []entity.LineCandidate
	OverallConfidence float64
	EngineID          string
	EngineVersion     string
	Duration          time.Duration
	Pages             int
	Method            string
	Warnings          []string
}

// Extraction turns the output into an unrefined extraction record.
func (o Output) Extraction() *entity.Extraction {
	return &entity.Extraction{
		EngineID:         o.EngineID,
		EngineVersion:    o.EngineVersion,
		RawText:          o.RawText,
		RawFields:        o.Fields,
		RawLines:         o.LineItems,
		EngineConfidence: o.OverallConfidence,
		Duration:         o.Duration,
	}
}
