package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
	"github.com/m3n3sx/faktulove3-sub000/internal/repository"
)

var _ = Describe("Processor", func() {
	var (
		ctx    context.Context
		h      *harness
		events []pipeline.Event
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(3)
		events = nil
		h.bus.Subscribe(func(_ context.Context, ev pipeline.Event) { events = append(events, ev) })
	})

	It("materializes a confident invoice without the manual verification flag", func() {
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusMaterialized))
		Expect(res.Route).To(Equal(decision.RouteAccept))
		Expect(res.Score).To(BeNumerically(">=", 90))
		Expect(res.Invoice).NotTo(BeNil())
		Expect(res.Invoice.RequiresManualVerification).To(BeFalse())

		Expect(h.statuses(ctx, doc.ID)).To(Equal([]constants.DocumentStatus{
			constants.StatusUploaded, constants.StatusValidating, constants.StatusQueued,
			constants.StatusExtracting, constants.StatusEnhancing, constants.StatusScoring,
			constants.StatusDecided, constants.StatusMaterialized,
		}))

		var seen []constants.DocumentStatus
		for _, ev := range events {
			seen = append(seen, ev.Status)
		}
		Expect(seen).To(Equal([]constants.DocumentStatus{
			constants.StatusExtracting, constants.StatusEnhancing, constants.StatusScoring,
			constants.StatusDecided, constants.StatusMaterialized,
		}))

		ext, err := h.store.Extractions.Active(ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ext.EngineID).To(Equal(constants.EngineFake))
		Expect(ext.RawFields[constants.FieldSellerTaxID].Value).To(Equal("526-025-02-74"))
		Expect(ext.Fields[constants.FieldSellerTaxID].Value).To(Equal("5260250274"))
	})

	It("sends a weak read to review with a strong warning and no invoice", func() {
		h.fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(40)})
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Score).To(BeNumerically("<", 70))
		Expect(res.Status).To(Equal(constants.StatusReviewRequired))

		t, err := h.store.Reviews.ActiveForDocument(ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Status).To(Equal(constants.TicketOpen))
		Expect(t.Severity).To(Equal(constants.SeverityStrongWarning))

		_, err = h.store.Invoices.GetByDocument(ctx, doc.ID)
		Expect(err).To(MatchError(common.ErrNotFound))
	})

	It("sends a middling read to review with a warning", func() {
		h.fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(75)})
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Route).To(Equal(decision.RouteReview))
		t, err := h.store.Reviews.ActiveForDocument(ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Severity).To(Equal(constants.SeverityWarning))
	})

	It("never accepts an invalid seller NIP even at 99% engine confidence", func() {
		out := extract.FakeInvoiceOutput(99)
		out.Fields[constants.FieldSellerTaxID] = entity.Candidate{Value: "123-456-78-90", Confidence: 99}
		h.fake.Push(extract.Script{Output: out})
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Score).To(BeNumerically("<", 90))
		Expect(res.Status).To(Equal(constants.StatusReviewRequired))
	})

	It("retries transient failures and fails after the last attempt", func() {
		for i := 0; i < 3; i++ {
			h.fake.Push(extract.Script{Err: errors.New("engine 503")})
		}
		doc := h.queued(ctx, pdfBytes)

		for attempt := 1; attempt <= 3; attempt++ {
			res, err := h.proc.Process(ctx, doc.ID, "w1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Attempt).To(Equal(attempt))
			if attempt < 3 {
				Expect(res.Status).To(Equal(constants.StatusRetryPending))
				got, err := h.store.Documents.Get(ctx, doc.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.NextAttemptAt).NotTo(BeNil())
				_, err = h.store.Documents.Transition(ctx, repository.Transition{DocumentID: doc.ID, Event: decision.EventRetry, Actor: constants.ActorSystem})
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(res.Status).To(Equal(constants.StatusFailed))
			}
		}

		got, err := h.store.Documents.Get(ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Attempts).To(Equal(3))
		Expect(got.LastError).To(HaveValue(ContainSubstring("engine unavailable")))

		count := 0
		for _, s := range h.statuses(ctx, doc.ID) {
			if s == constants.StatusRetryPending || s == constants.StatusFailed {
				count++
			}
		}
		Expect(count).To(Equal(got.Attempts + 1))

		attempts, err := h.store.Extractions.ListByDocument(ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(HaveLen(3))
		Expect(attempts[2].ErrorMessage).NotTo(BeNil())
	})

	It("fails unreadable documents without retrying", func() {
		h.fake.Push(extract.Script{Err: extract.Unsupported(errors.New("encrypted"))})
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusFailed))
		Expect(res.Route).To(Equal(decision.RouteFail))
		Expect(h.fake.Calls()).To(Equal(1))
	})

	It("retries when the engine times out", func() {
		h.fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(96), Delay: 5 * time.Second})
		doc := h.queued(ctx, pdfBytes)

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusRetryPending))
		got, _ := h.store.Documents.Get(ctx, doc.ID)
		Expect(got.LastError).To(HaveValue(ContainSubstring("engine timeout")))
	})

	It("honours a cancellation requested while the engine runs", func() {
		h.fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(96), Delay: 5 * time.Second})
		doc := h.queued(ctx, pdfBytes)

		cctx, cancel := context.WithCancelCause(ctx)
		go func() {
			defer GinkgoRecover()
			time.Sleep(20 * time.Millisecond)
			cancel(common.ErrCancelled)
		}()
		res, err := h.proc.Process(cctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusCancelled))
		Expect(h.statuses(ctx, doc.ID)).To(HaveLen(5))
	})

	It("cancels before dequeueing when the flag is already set", func() {
		doc := h.queued(ctx, pdfBytes)
		Expect(h.store.Documents.RequestCancel(ctx, doc.ID)).To(Succeed())

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusCancelled))
		Expect(h.fake.Calls()).To(BeZero())
	})

	It("refuses documents that are not queued", func() {
		doc := h.queued(ctx, pdfBytes)
		_, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())

		_, err = h.proc.Process(ctx, doc.ID, "w2")
		Expect(err).To(MatchError(common.ErrInvalidTransition))
		Expect(h.fake.Calls()).To(Equal(1))
	})

	It("treats a missing stored file as permanent", func() {
		doc := h.queued(ctx, pdfBytes)
		Expect(h.blobs.Delete(ctx, doc.StorageKey)).To(Succeed())

		res, err := h.proc.Process(ctx, doc.ID, "w1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(constants.StatusFailed))
	})
})
