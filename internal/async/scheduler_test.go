package async_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/async"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
	"github.com/m3n3sx/faktulove3-sub000/internal/storage"
)

var _ = Describe("Scheduler with a blocking runner", func() {
	var (
		ctx    context.Context
		store  *repository.Store
		runner *blockingRunner
		s      *async.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newTestStore()
		runner = newBlockingRunner()
		s = async.NewScheduler(runner, store, nil, discard, async.WithWorkers(1), async.WithQueueSize(1), async.WithNodeID("test"))
		DeferCleanup(func() {
			close(runner.release)
			s.Shutdown(context.Background())
		})
	})

	It("fails fast once every slot is taken", func() {
		a := queuedDocument(ctx, store, nil)
		b := queuedDocument(ctx, store, nil)

		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Eventually(runner.started).Should(Receive(Equal(a.ID)))
		Expect(s.Enqueue(ctx, b.ID)).To(Succeed())

		_, err := s.Reserve()
		Expect(err).To(MatchError(common.ErrSystemBusy))
		Expect(s.Pending()).To(Equal(1))
	})

	It("gives released reservations back", func() {
		r, err := s.Reserve()
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Reserve()
		Expect(err).To(MatchError(common.ErrSystemBusy))
		r.Release()
		r.Release()
		r, err = s.Reserve()
		Expect(err).NotTo(HaveOccurred())
		r.Release()
	})

	It("does not queue a document twice", func() {
		a := queuedDocument(ctx, store, nil)
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Eventually(runner.started).Should(Receive(Equal(a.ID)))
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Expect(s.Pending()).To(BeZero())
		Consistently(func() int { return runner.Calls(a.ID) }, 50*time.Millisecond).Should(Equal(1))
	})

	It("runs a document again when it is resubmitted mid-run", func() {
		a := queuedDocument(ctx, store, nil)
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Eventually(runner.started).Should(Receive(Equal(a.ID)))
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())

		runner.release <- struct{}{}
		Eventually(runner.started).Should(Receive(Equal(a.ID)))
		Expect(runner.Calls(a.ID)).To(Equal(2))
	})

	It("holds the processing lease while running and interrupts on cancel", func() {
		a := queuedDocument(ctx, store, nil)
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Eventually(runner.started).Should(Receive(Equal(a.ID)))

		err := store.Documents.AcquireLease(ctx, a.ID, "other", time.Minute)
		Expect(err).To(MatchError(common.ErrLeaseHeld))

		Expect(s.CancelInFlight(a.ID)).To(BeTrue())
		Eventually(func() error { return runner.Cause(a.ID) }).Should(MatchError(common.ErrCancelled))
		Eventually(func() error {
			return store.Documents.AcquireLease(ctx, a.ID, "other", time.Minute)
		}).Should(Succeed())
	})

	It("skips documents leased by another process", func() {
		a := queuedDocument(ctx, store, nil)
		Expect(store.Documents.AcquireLease(ctx, a.ID, "elsewhere", time.Minute)).To(Succeed())
		Expect(s.Enqueue(ctx, a.ID)).To(Succeed())
		Consistently(runner.started, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("reports unknown documents as not in flight", func() {
		Expect(s.CancelInFlight(queuedDocument(ctx, store, nil).ID)).To(BeFalse())
	})
})

var _ = Describe("Scheduler with the pipeline", func() {
	var (
		ctx   context.Context
		store *repository.Store
		blobs storage.Store
		fake  *extract.Fake
		bus   *pipeline.Bus
		s     *async.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newTestStore()
		var err error
		blobs, err = storage.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		fake = extract.NewFake()
		bus = pipeline.NewBus(discard)
		proc := newProcessor(store, blobs, fake, bus)
		s = async.NewScheduler(proc, store, bus, discard, async.WithWorkers(2), async.WithQueueSize(8), async.WithRecoveryInterval(10*time.Millisecond))
		DeferCleanup(func() { s.Shutdown(context.Background()) })
	})

	It("retries a transient failure after the backoff and then materializes", func() {
		fake.Push(extract.Script{Err: errors.New("connection refused")})
		doc := queuedDocument(ctx, store, blobs)
		Expect(s.Enqueue(ctx, doc.ID)).To(Succeed())

		Eventually(func() constants.DocumentStatus {
			d, err := store.Documents.Get(ctx, doc.ID)
			Expect(err).NotTo(HaveOccurred())
			return d.Status
		}).Should(Equal(constants.StatusMaterialized))
		Expect(fake.Calls()).To(Equal(2))

		Eventually(func() *string {
			d, _ := store.Documents.Get(ctx, doc.ID)
			return d.LeaseOwner
		}).Should(BeNil())
		d, _ := store.Documents.Get(ctx, doc.ID)
		Expect(d.Attempts).To(Equal(2))
		Expect(d.LastError).To(BeNil())
	})

	It("recovers queued and abandoned documents", func() {
		queued := queuedDocument(ctx, store, blobs)

		stuck := queuedDocument(ctx, store, blobs)
		_, err := store.Documents.Transition(ctx, repository.Transition{DocumentID: stuck.ID, Event: decision.EventDequeued, Actor: constants.ActorSystem, IncrementAttempts: true})
		Expect(err).NotTo(HaveOccurred())

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.Run(runCtx)

		Eventually(func() constants.DocumentStatus {
			d, _ := store.Documents.Get(ctx, queued.ID)
			return d.Status
		}).Should(Equal(constants.StatusMaterialized))
		Eventually(func() constants.DocumentStatus {
			d, _ := store.Documents.Get(ctx, stuck.ID)
			return d.Status
		}).Should(Equal(constants.StatusMaterialized))

		entries, err := store.Log.List(ctx, stuck.ID)
		Expect(err).NotTo(HaveOccurred())
		var sawRetry bool
		for _, e := range entries {
			if e.ToStatus == constants.StatusRetryPending {
				sawRetry = true
			}
		}
		Expect(sawRetry).To(BeTrue())
	})

	It("refuses work after shutdown", func() {
		s.Shutdown(ctx)
		_, err := s.Reserve()
		Expect(err).To(MatchError(common.ErrSystemBusy))
	})
})
