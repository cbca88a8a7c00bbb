// Package core assembles the pipeline from configuration.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/async"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/export"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/ingest"
	"github.com/m3n3sx/faktulove3-sub000/internal/llm/gemini"
	"github.com/m3n3sx/faktulove3-sub000/internal/materialize"
	"github.com/m3n3sx/faktulove3-sub000/internal/ocr"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/review"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
	"github.com/m3n3sx/faktulove3-sub000/internal/scoring"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

// System is a fully wired pipeline.
type System struct {
	DB        *repository.DB
	Store     *repository.Store
	Blobs     storage.Store
	Bus       *pipeline.Bus
	Engine    extract.Backend
	Processor *pipeline.Processor
	Scheduler *async.Scheduler
	Ingest    *ingest.Service
	Reviews   *review.Service
	Exporter  *export.Service

	closers []io.Closer
	logger  *slog.Logger
}

type options struct {
	db      *repository.DB
	blobs   storage.Store
	backend extract.Backend
}

type Option func(*options)

// WithDB uses an already opened and migrated database.
func WithDB(db *repository.DB) Option { return func(o *options) { o.db = db } }

// WithBlobs overrides the configured blob store.
func WithBlobs(s storage.Store) Option { return func(o *options) { o.blobs = s } }

// WithBackend overrides the configured extraction engine.
func WithBackend(b extract.Backend) Option { return func(o *options) { o.backend = b } }

// Build wires every component from cfg. The caller owns the returned System
// and must Close it.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (_ *System, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sys := &System{logger: logger}
	defer func() {
		if err != nil {
			sys.Close(context.Background())
		}
	}()

	if o.db == nil {
		db, err := repository.Open(ctx, repository.Config{
			Driver:           cfg.Database.Driver,
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sys.closers = append(sys.closers, closerFunc(func() error { db.Close(); return nil }))
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		o.db = db
	}
	sys.DB = o.db
	sys.Store = repository.NewStore(o.db, logger)

	if o.blobs == nil {
		blobs, err := storage.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("open blob storage: %w", err)
		}
		if c, ok := blobs.(io.Closer); ok {
			sys.closers = append(sys.closers, c)
		}
		o.blobs = blobs
	}
	sys.Blobs = o.blobs

	if o.backend == nil {
		o.backend, err = sys.engine(ctx, cfg.Engine)
		if err != nil {
			return nil, err
		}
	}
	sys.Engine = o.backend

	policy := cfg.Policy
	decider := decision.NewEngine(decision.Thresholds{AutoAccept: policy.AutoAccept, ReviewFloor: policy.ReviewFloor})
	enhancer := rules.NewDefaultEnhancer(rules.Options{
		FieldBonus:      policy.FieldBonus,
		DocumentPenalty: policy.DocumentPenalty,
		DefaultCountry:  policy.DefaultCountry,
	}, logger)
	scorer := scoring.NewScorer(scoring.FromPolicy(policy), logger)
	mat := materialize.New(sys.Store, materialize.Options{AutoAccept: policy.AutoAccept}, logger)
	sys.Bus = pipeline.NewBus(logger)
	sys.Bus.Subscribe(func(_ context.Context, ev pipeline.Event) {
		logger.Info("document settled",
			"document_id", ev.DocumentID,
			"status", ev.Status,
			"event", ev.Event,
			"attempt", ev.Attempt,
			"score", ev.Score,
		)
	}, constants.StatusMaterialized, constants.StatusReviewRequired, constants.StatusFailed, constants.StatusCancelled)

	adapter := extract.NewAdapter(o.backend, extract.AdapterConfig{
		AllowedMIME: cfg.Upload.AllowedMIME,
		MaxBytes:    cfg.Upload.MaxBytes,
		Timeout:     cfg.Engine.Timeout,
	}, logger)
	sys.Processor = pipeline.NewProcessor(sys.Store, sys.Blobs, adapter, enhancer, scorer, decider, mat, sys.Bus, pipeline.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     pipeline.Backoff{Base: cfg.Pipeline.BackoffBase, Cap: cfg.Pipeline.BackoffCap},
	}, logger)

	sys.Scheduler = async.NewScheduler(sys.Processor, sys.Store, sys.Bus, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
		async.WithLeaseTTL(cfg.Pipeline.LeaseTTL),
		async.WithRecoveryInterval(cfg.Pipeline.RecoveryInterval),
	)

	sys.Ingest = ingest.NewService(sys.Store, sys.Blobs, sys.Scheduler, sys.Bus, ingest.Options{
		MaxBytes:      cfg.Upload.MaxBytes,
		AllowedMIME:   cfg.Upload.AllowedMIME,
		RatePerMinute: cfg.Pipeline.OwnerRatePerMinute,
		Burst:         cfg.Pipeline.OwnerBurst,
		LocaleDefault: localeFor(policy.DefaultCountry),
	}, logger)

	sys.Reviews, err = review.NewService(sys.Store, enhancer, scorer, mat, decider, sys.Bus, logger,
		review.WithLeaseTTL(cfg.Pipeline.LeaseTTL))
	if err != nil {
		return nil, err
	}
	sys.Exporter = export.NewService(sys.Store.Invoices, sys.Store.Documents, logger)

	logger.Info("pipeline assembled",
		"engine", o.backend.Name(),
		"engine_version", o.backend.Version(),
		"db_driver", o.db.Dialect(),
		"workers", cfg.Pipeline.Workers,
	)
	return sys, nil
}

// engine builds the configured backend. Tesseract and the fake engine are
// always registered, gemini only when an API key is present.
func (s *System) engine(ctx context.Context, cfg common.EngineConfig) (extract.Backend, error) {
	backends := []extract.Backend{
		extract.NewFake(),
		extract.NewOCRBackend(ocr.NewExtractor(ocr.Config{
			Pdftotext:           cfg.Pdftotext,
			Pdftoppm:            cfg.Pdftoppm,
			Tesseract:           cfg.Tesseract,
			TesseractLang:       cfg.TesseractLang,
			TessdataDir:         cfg.TessdataDir,
			EnableTSVConfidence: true,
			PSM:                 6,
		}, s.logger), s.logger),
	}
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, g)
		backends = append(backends, g)
	} else if cfg.Backend == constants.EngineGemini {
		return nil, errors.New("ENGINE_BACKEND=gemini needs GEMINI_API_KEY")
	}
	return extract.NewRegistry(backends...).Get(cfg.Backend)
}

// Close stops the scheduler, then releases storage and the database.
func (s *System) Close(ctx context.Context) {
	if s.Scheduler != nil {
		s.Scheduler.Shutdown(ctx)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error("failed to close component", "error", err)
		}
	}
	s.closers = nil
}

func localeFor(country string) string {
	if country == "" {
		return "pl"
	}
	return strings.ToLower(country)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
