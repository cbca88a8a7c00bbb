package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

type task struct {
	cancel context.CancelCauseFunc
	// again is set when the document was resubmitted while running.
	again bool
}

// Scheduler is a fixed pool of workers fed by a bounded queue. Queue
// positions are reserved up front so callers learn about a full queue before
// they persist anything.
type Scheduler struct {
	runner Runner
	store  *repository.Store
	bus    *pipeline.Bus
	logger *slog.Logger

	workers          int
	queueSize        int
	timeout          time.Duration
	leaseTTL         time.Duration
	recoveryInterval time.Duration
	node             string
	now              func() time.Time

	ch    chan uuid.UUID
	slots chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu          sync.Mutex
	closed      bool
	inflight    map[uuid.UUID]*task
	timers      map[uuid.UUID]*time.Timer
	unsubscribe func()
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

func WithRecoveryInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.recoveryInterval = d
		}
	}
}

// WithNodeID names this process in lease owners.
func WithNodeID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.node = id
		}
	}
}

func NewScheduler(runner Runner, store *repository.Store, bus *pipeline.Bus, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	s := &Scheduler{
		runner:           runner,
		store:            store,
		bus:              bus,
		logger:           logger,
		workers:          4,
		queueSize:        256,
		timeout:          3 * time.Minute,
		leaseTTL:         10 * time.Minute,
		recoveryInterval: time.Minute,
		node:             fmt.Sprintf("%s-%d", host, os.Getpid()),
		now:              time.Now,
		inflight:         map[uuid.UUID]*task{},
		timers:           map[uuid.UUID]*time.Timer{},
	}
	for _, o := range opts {
		o(s)
	}
	s.ch = make(chan uuid.UUID, s.queueSize)
	s.slots = make(chan struct{}, s.queueSize)
	if bus != nil {
		s.unsubscribe = bus.Subscribe(s.onRetryPending, constants.StatusRetryPending)
	}
	s.start()
	return s
}

func (s *Scheduler) start() {
	s.once.Do(func() {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go func(workerID int) {
				defer s.wg.Done()
				owner := fmt.Sprintf("%s/worker-%d", s.node, workerID)
				s.logger.Info("worker started", "worker_id", owner)

				for id := range s.ch {
					<-s.slots
					if s.isClosed() {
						// Still queued in the store; the next recovery sweep picks it up.
						s.forget(id)
						continue
					}
					s.run(owner, id)
				}

				s.logger.Info("worker stopped", "worker_id", owner)
			}(i + 1)
		}
	})
}

func (s *Scheduler) run(owner string, id uuid.UUID) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	s.mu.Lock()
	if t, ok := s.inflight[id]; ok {
		t.cancel = cancel
	}
	s.mu.Unlock()
	defer s.forget(id)

	ctx, cancelTimeout := context.WithTimeout(ctx, s.timeout)
	defer cancelTimeout()

	if err := s.store.Documents.AcquireLease(ctx, id, owner, s.leaseTTL); err != nil {
		if errors.Is(err, common.ErrLeaseHeld) {
			s.logger.Warn("document already being processed elsewhere", "worker_id", owner, "document_id", id)
		} else {
			s.logger.Error("failed to acquire lease", "worker_id", owner, "document_id", id, "error", err)
		}
		return
	}
	defer func() {
		if err := s.store.Documents.ReleaseLease(context.WithoutCancel(ctx), id, owner); err != nil {
			s.logger.Error("failed to release lease", "worker_id", owner, "document_id", id, "error", err)
		}
	}()

	start := s.now()
	res, err := s.runner.Process(ctx, id, owner)
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			s.logger.Info("skipping document no longer queued", "worker_id", owner, "document_id", id, "error", err)
			return
		}
		s.logger.Error("processing failed", "worker_id", owner, "document_id", id, "error", err)
		return
	}
	s.logger.Info("processed document",
		"worker_id", owner,
		"document_id", id,
		"status", res.Status,
		"attempt", res.Attempt,
		"score", res.Score,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
}

func (s *Scheduler) forget(id uuid.UUID) {
	s.mu.Lock()
	t := s.inflight[id]
	delete(s.inflight, id)
	closed := s.closed
	s.mu.Unlock()
	if t != nil && t.again && !closed {
		if err := s.Enqueue(context.Background(), id); err != nil {
			s.logger.Warn("resubmitted document left for recovery", "document_id", id, "error", err)
		}
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reservation is a claimed queue slot. Exactly one of Submit and Release
// must be called.
type Reservation struct {
	s    *Scheduler
	once sync.Once
}

// Reserve claims a slot without blocking.
func (s *Scheduler) Reserve() (*Reservation, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("%w: scheduler is shutting down", common.ErrSystemBusy)
	}
	select {
	case s.slots <- struct{}{}:
		return &Reservation{s: s}, nil
	default:
		s.logger.Warn("queue full, rejecting work", "queue_size", s.queueSize)
		return nil, fmt.Errorf("%w: processing queue is full", common.ErrSystemBusy)
	}
}

// Submit hands the document to the workers. A document already queued or
// running in this process is not queued twice.
func (r *Reservation) Submit(documentID uuid.UUID) error {
	err := errors.New("reservation already used")
	r.once.Do(func() { err = r.s.submit(documentID) })
	return err
}

// Release gives the slot back unused.
func (r *Reservation) Release() {
	r.once.Do(func() { <-r.s.slots })
}

func (s *Scheduler) submit(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		<-s.slots
		return fmt.Errorf("%w: scheduler is shutting down", common.ErrSystemBusy)
	}
	if t, ok := s.inflight[id]; ok {
		<-s.slots
		if t.cancel != nil {
			// Running: go again once the current run unwinds.
			t.again = true
		}
		s.logger.Debug("document already scheduled", "document_id", id)
		return nil
	}
	s.inflight[id] = &task{}
	// Cannot block: every value in ch holds a slot.
	s.ch <- id
	s.logger.Info("queued document for processing", "document_id", id)
	return nil
}

// Enqueue reserves a slot and submits documentID.
func (s *Scheduler) Enqueue(_ context.Context, documentID uuid.UUID) error {
	r, err := s.Reserve()
	if err != nil {
		return err
	}
	return r.Submit(documentID)
}

// CancelInFlight interrupts the worker running documentID. It reports
// whether the document was known to this process.
func (s *Scheduler) CancelInFlight(documentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.inflight[documentID]
	if ok && t.cancel != nil {
		t.cancel(common.ErrCancelled)
	}
	if timer, scheduled := s.timers[documentID]; scheduled {
		timer.Stop()
		delete(s.timers, documentID)
	}
	return ok
}

// Pending is the number of reserved queue slots.
func (s *Scheduler) Pending() int { return len(s.slots) }

func (s *Scheduler) onRetryPending(_ context.Context, ev pipeline.Event) {
	at := s.now()
	if ev.NextAttemptAt != nil {
		at = *ev.NextAttemptAt
	}
	s.scheduleRetry(ev.DocumentID, at)
}

func (s *Scheduler) scheduleRetry(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.retry(id) })
	s.logger.Debug("retry scheduled", "document_id", id, "delay_ms", delay.Milliseconds())
}

// retry moves a retry_pending document back to queued and submits it.
func (s *Scheduler) retry(id uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	r, err := s.Reserve()
	if err != nil {
		s.logger.Warn("retry deferred to recovery", "document_id", id, "error", err)
		return
	}
	ctx := context.Background()
	doc, err := s.store.Documents.Transition(ctx, repository.Transition{
		DocumentID: id,
		Event:      decision.EventRetry,
		From:       constants.StatusRetryPending,
		Actor:      constants.ActorSystem,
		Detail:     "backoff elapsed",
	})
	if err != nil {
		r.Release()
		s.logger.Info("retry skipped", "document_id", id, "error", err)
		return
	}
	s.bus.Publish(ctx, pipeline.Event{DocumentID: id, Event: decision.EventRetry, Status: doc.Status, Attempt: doc.Attempts})
	if err := r.Submit(id); err != nil {
		s.logger.Warn("retry not submitted", "document_id", id, "error", err)
	}
}

// Recover re-enqueues queued documents nobody holds, schedules due retries,
// and fails over documents stuck mid-pipeline behind an expired lease. It
// returns how many documents it acted on.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	now := s.now()
	acted := 0

	queued, err := s.store.Documents.ListByStatus(ctx, constants.StatusQueued)
	if err != nil {
		return 0, err
	}
	for _, d := range queued {
		if d.LeaseLive(now) {
			continue
		}
		if err := s.Enqueue(ctx, d.ID); err != nil {
			s.logger.Warn("recovery stopped, queue full", "remaining", len(queued)-acted)
			return acted, nil
		}
		acted++
	}

	pending, err := s.store.Documents.ListByStatus(ctx, constants.StatusRetryPending)
	if err != nil {
		return acted, err
	}
	for _, d := range pending {
		at := now
		if d.NextAttemptAt != nil {
			at = *d.NextAttemptAt
		}
		s.scheduleRetry(d.ID, at)
		acted++
	}

	stuck, err := s.store.Documents.ListByStatus(ctx,
		constants.StatusValidating, constants.StatusExtracting, constants.StatusEnhancing,
		constants.StatusScoring, constants.StatusDecided)
	if err != nil {
		return acted, err
	}
	for _, d := range stuck {
		s.mu.Lock()
		_, local := s.inflight[d.ID]
		s.mu.Unlock()
		if local || d.LeaseLive(now) {
			continue
		}
		s.logger.Warn("recovering abandoned document", "document_id", d.ID, "status", d.Status, "attempt", d.Attempts)
		if _, err := s.runner.HandleFailure(ctx, d, extract.Unavailable(errors.New("processing lease expired"))); err != nil {
			s.logger.Error("failed to recover document", "document_id", d.ID, "error", err)
			continue
		}
		acted++
	}
	if acted > 0 {
		s.logger.Info("recovery sweep finished", "documents", acted)
	}
	return acted, nil
}

// Run sweeps once at start and then every recovery interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	if _, err := s.Recover(ctx); err != nil {
		s.logger.Error("recovery sweep failed", "error", err)
	}
	t := time.NewTicker(s.recoveryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Recover(ctx); err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// Shutdown stops accepting work and waits for running documents. When ctx
// ends first, running documents are interrupted and recorded as transient
// failures.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	done := make(chan struct{})
	go func() { defer close(done); s.wg.Wait() }()

	select {
	case <-done:
		s.logger.Info("queue drained, shutdown complete")
	case <-ctx.Done():
		s.logger.Warn("shutdown interrupted by context, aborting running documents")
		s.mu.Lock()
		for _, t := range s.inflight {
			if t.cancel != nil {
				t.cancel(context.Cause(ctx))
			}
		}
		s.mu.Unlock()
		<-done
	}
}
