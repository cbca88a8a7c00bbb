// Package ingest admits uploaded documents into the pipeline and answers
// status and cancellation requests for them.
package ingest

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/async"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

// Upload is one document handed in by an owner.
type Upload struct {
	OwnerID      uuid.UUID
	Filename     string
	Content      []byte
	DeclaredMIME string
	LocaleHint   string
}

// Submission acknowledges an accepted upload.
type Submission struct {
	DocumentID   uuid.UUID
	Status       constants.DocumentStatus
	Deduplicated bool
	ContentHash  string
}

// StatusView is what an owner may see about a document.
type StatusView struct {
	DocumentID                 uuid.UUID
	Filename                   string
	Status                     constants.DocumentStatus
	Attempts                   int
	Confidence                 *float64
	Error                      *string
	RequiresManualVerification *bool
	NextAttemptAt              *time.Time
	UpdatedAt                  time.Time
}

type Options struct {
	MaxBytes    int64
	AllowedMIME []string
	// Per-owner admission rate. Zero disables the limit.
	RatePerMinute int
	Burst         int
	// OwnerIdle is how long an owner's limiter is kept after its last
	// upload. Defaults to ten minutes.
	OwnerIdle     time.Duration
	LocaleDefault string
}

// Service is the ingestion API.
type Service struct {
	store  *repository.Store
	blobs  storage.Store
	queue  async.Queue
	bus    *pipeline.Bus
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	owners    map[uuid.UUID]*ownerState
	lastSweep time.Time
}

// ownerState serializes admissions of one owner and meters them. users and
// lastSeen are guarded by Service.mu.
type ownerState struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	users    int
	lastSeen time.Time
}

func NewService(store *repository.Store, blobs storage.Store, queue async.Queue, bus *pipeline.Bus, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedMIME) == 0 {
		opts.AllowedMIME = constants.DefaultAllowedMIME
	}
	if opts.LocaleDefault == "" {
		opts.LocaleDefault = "pl"
	}
	if opts.OwnerIdle <= 0 {
		opts.OwnerIdle = 10 * time.Minute
	}
	return &Service{
		store:  store,
		blobs:  blobs,
		queue:  queue,
		bus:    bus,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		owners: map[uuid.UUID]*ownerState{},
	}
}

// acquireOwner returns the owner's state pinned until releaseOwner.
func (s *Service) acquireOwner(id uuid.UUID) *ownerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= s.opts.OwnerIdle {
		s.sweepOwners(now)
		s.lastSweep = now
	}
	st, ok := s.owners[id]
	if !ok {
		st = &ownerState{}
		if s.opts.RatePerMinute > 0 {
			burst := s.opts.Burst
			if burst <= 0 {
				burst = 1
			}
			st.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.RatePerMinute)), burst)
		}
		s.owners[id] = st
	}
	st.users++
	st.lastSeen = now
	return st
}

func (s *Service) releaseOwner(st *ownerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.users--
	st.lastSeen = s.now()
}

// sweepOwners drops owners nobody is using whose limiter has refilled, so
// forgetting them grants no extra uploads. Callers hold s.mu.
func (s *Service) sweepOwners(now time.Time) {
	for id, st := range s.owners {
		if st.users > 0 || now.Sub(st.lastSeen) < s.opts.OwnerIdle {
			continue
		}
		if st.limiter != nil && st.limiter.TokensAt(now) < float64(st.limiter.Burst()) {
			continue
		}
		delete(s.owners, id)
	}
}
