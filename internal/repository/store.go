package repository

import "log/slog"

// Store bundles the repositories sharing one DB.
type Store struct {
	DB          *DB
	Documents   DocumentRepository
	Extractions ExtractionRepository
	Invoices    InvoiceRepository
	Reviews     ReviewRepository
	Log         ProcessingLogRepository
}

func NewStore(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	plog := NewProcessingLogRepository(db, logger)
	return &Store{
		DB:          db,
		Documents:   NewDocumentRepository(db, plog, logger),
		Extractions: NewExtractionRepository(db, logger),
		Invoices:    NewInvoiceRepository(db, logger),
		Reviews:     NewReviewRepository(db, logger),
		Log:         plog,
	}
}
