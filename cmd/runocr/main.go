package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/llm/gemini"
	"github.com/m3n3sx/faktulove3-sub000/internal/ocr"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
	"github.com/m3n3sx/faktulove3-sub000/internal/scoring"
)

// runocr runs one local file through the engine, the country rules and the
// scorer without touching a database, and prints what the pipeline would decide.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <invoice-file>")
		os.Exit(2)
	}
	path := os.Args[1]
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(2)
	}
	cfg := common.LoadConfig()
	mime := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(path))]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var backend extract.Backend
	if cfg.Engine.Backend == constants.EngineGemini {
		g, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Engine.GeminiAPIKey, Model: cfg.Engine.GeminiModel}, logger)
		if err != nil {
			logger.Error("gemini client", "error", err)
			os.Exit(1)
		}
		defer g.Close()
		backend = g
	} else {
		backend = extract.NewOCRBackend(ocr.NewExtractor(ocr.Config{
			Pdftotext:           cfg.Engine.Pdftotext,
			Pdftoppm:            cfg.Engine.Pdftoppm,
			Tesseract:           cfg.Engine.Tesseract,
			TesseractLang:       cfg.Engine.TesseractLang,
			TessdataDir:         cfg.Engine.TessdataDir,
			EnableTSVConfidence: true,
			PSM:                 6,
		}, logger), logger)
	}
	adapter := extract.NewAdapter(backend, extract.AdapterConfig{
		AllowedMIME: cfg.Upload.AllowedMIME,
		MaxBytes:    cfg.Upload.MaxBytes,
		Timeout:     cfg.Engine.Timeout,
	}, logger)

	start := time.Now()
	out, err := adapter.Extract(ctx, extract.Input{Content: content, MIMEType: mime, Filename: filepath.Base(path), LocaleHint: "pl"})
	if err != nil {
		logger.Error("extraction failed", "error", err, "transient", common.IsTransient(err), "duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	policy := cfg.Policy
	ext := rules.NewDefaultEnhancer(rules.Options{
		FieldBonus:      policy.FieldBonus,
		DocumentPenalty: policy.DocumentPenalty,
		DefaultCountry:  policy.DefaultCountry,
	}, logger).Enhance(out.Extraction(), "pl")
	score := scoring.NewScorer(scoring.FromPolicy(policy), logger).Apply(ext)
	outcome := decision.NewEngine(decision.Thresholds{AutoAccept: policy.AutoAccept, ReviewFloor: policy.ReviewFloor}).Decide(decision.Input{
		Score:          ext.OverallConfidence,
		MandatoryValid: ext.MandatoryValid(),
		CriticalValid:  !ext.CriticalFailure,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"engine":      out.EngineID,
		"duration_ms": time.Since(start).Milliseconds(),
		"fields":      ext.Fields,
		"lines":       ext.Lines,
		"adjustments": ext.Adjustments,
		"score":       score,
		"route":       outcome.Route,
		"rationale":   outcome.Rationale,
	})
}
