package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/core"
)

func main() {
	fs := ff.NewFlagSet("faktulove-batch")
	var (
		dir        = fs.StringLong("dir", "", "directory of invoice documents (required)")
		out        = fs.StringLong("out", "", "output XLSX path (default: invoices.xlsx next to --dir)")
		ownerStr   = fs.StringLong("owner", "", "owner UUID the documents belong to (default: random)")
		dbPath     = fs.StringLong("db", ":memory:", "SQLite database path")
		storageDir = fs.StringLong("storage", "", "blob directory (default: temporary)")
		engine     = fs.StringLong("engine", constants.EngineTesseract, "engine backend: tesseract, gemini or fake")
		geminiKey  = fs.StringLong("gemini-key", "", "Gemini API key")
		policyPath = fs.StringLong("policy", "", "YAML policy file")
		fromStr    = fs.StringLong("from", "", "from date YYYY-MM-DD")
		toStr      = fs.StringLong("to", "", "to date YYYY-MM-DD")
		workers    = fs.IntLong("workers", 4, "concurrent documents")
		wait       = fs.DurationLong("wait", 30*time.Minute, "how long to wait for the queue to drain")
		hidden     = fs.BoolLong("include-hidden", "also ingest hidden files and directories")
		logLevel   = fs.StringLong("log-level", "info", "debug, info, warn or error")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("FAKTULOVE")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		fmt.Fprintf(os.Stderr, "error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "invoices.xlsx")
	}
	from, err := parseDate(*fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --from: %v\n", err)
		os.Exit(1)
	}
	to, err := parseDate(*toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --to: %v\n", err)
		os.Exit(1)
	}
	owner := uuid.New()
	if *ownerStr != "" {
		if owner, err = uuid.Parse(*ownerStr); err != nil {
			fmt.Fprintf(os.Stderr, "error: --owner must be a UUID\n")
			os.Exit(1)
		}
	}

	logger := common.NewLogger(common.LogConfig{Level: *logLevel, Format: "json"}, os.Stderr)
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = *dbPath
	cfg.Storage.Backend = "fs"
	cfg.Storage.Dir = *storageDir
	if cfg.Storage.Dir == "" {
		tmp, err := os.MkdirTemp("", "faktulove-batch-")
		if err != nil {
			logger.Error("failed to create blob directory", "error", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		cfg.Storage.Dir = tmp
	}
	cfg.Engine.Backend = *engine
	if *geminiKey != "" {
		cfg.Engine.GeminiAPIKey = *geminiKey
	}
	cfg.Pipeline.Workers = *workers
	cfg.Pipeline.QueueSize = 4096
	cfg.Pipeline.OwnerRatePerMinute = 0
	if *policyPath != "" {
		if err := cfg.LoadPolicyFile(*policyPath); err != nil {
			logger.Error("failed to load policy", "error", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := core.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer sys.Close(context.Background())

	logger.Info("starting ingestion", "dir", *dir, "owner_id", owner)
	results, stats, err := sys.Ingest.IngestDirectory(ctx, owner, *dir, nil, !*hidden)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	for _, r := range results {
		if r.Err != "" {
			logger.Warn("file rejected", "path", r.Path, "error", r.Err)
		}
	}
	logger.Info("ingestion complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed)

	counts, err := drain(ctx, sys, owner, *wait)
	if err != nil {
		logger.Error("queue did not drain", "error", err, "counts", counts)
	}

	xlsx, err := sys.Exporter.ExportInvoicesXLSX(ctx, owner, from, to)
	if err != nil {
		logger.Error("failed to export invoices", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files matched: %d (rejected %d, duplicates %d)\n", stats.Matched, stats.Failed, stats.Deduplicated)
	fmt.Printf("- Materialized: %d\n", counts[constants.StatusMaterialized])
	fmt.Printf("- Review required: %d\n", counts[constants.StatusReviewRequired])
	fmt.Printf("- Failed: %d\n", counts[constants.StatusFailed])
	fmt.Printf("- Output: %s\n", *out)
}

// drain polls until every document of owner is at rest.
func drain(ctx context.Context, sys *core.System, owner uuid.UUID, wait time.Duration) (map[constants.DocumentStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		docs, err := sys.Store.Documents.ListByOwner(ctx, owner, 0)
		if err != nil {
			return nil, err
		}
		counts := map[constants.DocumentStatus]int{}
		busy := 0
		for _, d := range docs {
			counts[d.Status]++
			if !d.Status.IsRest() {
				busy++
			}
		}
		if busy == 0 {
			return counts, nil
		}
		select {
		case <-ctx.Done():
			return counts, ctx.Err()
		case <-tick.C:
		}
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
