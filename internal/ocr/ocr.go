// Package ocr reads invoices locally with pdftotext, pdftoppm and tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "pol+eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	EnableTSVConfidence bool

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	// MinTextChars is the shortest text layer accepted before a PDF is rasterized.
	MinTextChars int
	Version      string
}

type ExtractionResult struct {
	Text     string
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr" | "image-ocr"
	Language string
	Duration time.Duration
	Warnings []string
	// Confidence is 0..100.
	Confidence float64
	Fields     map[string]entity.Candidate
	Lines      []entity.LineCandidate
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	return NewExtractorWithRunner(cfg, nil, logger)
}

// NewExtractorWithRunner uses r for every external command.
func NewExtractorWithRunner(cfg Config, r Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "pol+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 20
	}
	if cfg.Version == "" {
		cfg.Version = "5"
	}
	if r == nil {
		r = execRunner{logger: logger}
	}
	return &Extractor{cfg: cfg, runner: r, logger: logger}
}

func (e *Extractor) Version() string { return e.cfg.Version }

var extByMIME = map[string]string{
	constants.MIMEPDF:  ".pdf",
	constants.MIMEJPEG: ".jpg",
	constants.MIMEPNG:  ".png",
	constants.MIMETIFF: ".tif",
}

// ExtractBytes reads a document held in memory. The content is spooled to a
// temporary file for the external tools.
func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, mime string) (ExtractionResult, error) {
	ext, ok := extByMIME[mime]
	if !ok {
		return ExtractionResult{}, fmt.Errorf("%w: %s", common.ErrUnsupportedFormat, mime)
	}
	tmpDir, err := os.MkdirTemp("", "faktulove-ocr-*")
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("%w: temp dir: %v", common.ErrEngineUnavailable, err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()
	path := filepath.Join(tmpDir, "document"+ext)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return ExtractionResult{}, fmt.Errorf("%w: spool document: %v", common.ErrEngineUnavailable, err)
	}
	return e.Extract(ctx, path)
}

// Extract picks a strategy based on file extension.
func (e *Extractor) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting ocr extraction", "path", path, "ext", ext)

	var (
		res ExtractionResult
		err error
	)
	switch constants.AllowedExtensions[ext] {
	case constants.MIMEPDF:
		res, err = e.extractPDF(ctx, path)
	case constants.MIMEJPEG, constants.MIMEPNG, constants.MIMETIFF:
		res, err = e.extractImage(ctx, path)
	default:
		e.logger.Error("unsupported ocr extension", "extension", ext)
		return ExtractionResult{}, fmt.Errorf("%w: extension %q", common.ErrUnsupportedFormat, ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}
	res.Fields, res.Lines = ParseFields(res.Text, res.Confidence)
	e.logger.Debug("ocr extraction finished",
		"method", res.Method,
		"pages", res.Pages,
		"confidence", res.Confidence,
		"fields", len(res.Fields),
		"lines", len(res.Lines),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (ExtractionResult, error) {
	txt, pages, warns, err := e.pdfToText(ctx, path)
	if err != nil {
		return ExtractionResult{Warnings: warns}, classifyTool(e.cfg.Pdftotext, warns, err)
	}
	txt = Normalize(txt)
	if len([]rune(strings.TrimSpace(txt))) >= e.cfg.MinTextChars {
		return ExtractionResult{
			Text:       txt,
			Pages:      pages,
			Method:     "pdf-text",
			Warnings:   warns,
			Confidence: blend(textLayerConfidence, heuristicConfidence(txt)),
		}, nil
	}

	e.logger.Debug("pdf has no usable text layer, rasterizing", "path", path)
	txt, pages, conf, warns2, err := e.pdfToOCR(ctx, path)
	warns = append(warns, warns2...)
	if err != nil {
		return ExtractionResult{Warnings: warns}, classifyTool(e.cfg.Pdftoppm, warns, err)
	}
	txt = Normalize(txt)
	return ExtractionResult{
		Text:       txt,
		Pages:      pages,
		Method:     "pdf-ocr",
		Language:   e.cfg.TesseractLang,
		Warnings:   warns,
		Confidence: blend(conf, heuristicConfidence(txt)),
	}, nil
}

// classifyTool tells a document the tool rejected from a tool that could not run.
func classifyTool(tool string, stderr []string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 && looksLikeBadInput(strings.Join(stderr, "\n")) {
		return fmt.Errorf("%w: %s: %v", common.ErrUnsupportedFormat, tool, err)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrEngineUnavailable, tool, err)
}

var badInputMarkers = []string{
	"syntax error",
	"may not be a pdf",
	"couldn't read xref",
	"incorrect password",
	"unsupported image",
	"pixreadstream",
	"image file format",
	"leptonica",
}

func looksLikeBadInput(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, m := range badInputMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
