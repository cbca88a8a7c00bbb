package decision_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
)

var _ = Describe("Engine", func() {
	var engine *decision.Engine

	BeforeEach(func() {
		engine = decision.NewEngine(decision.DefaultThresholds)
	})

	It("accepts every score at or above the threshold when mandatory fields are valid", func() {
		for s := 90.0; s <= 100.0; s += 0.25 {
			out := engine.Decide(decision.Input{Score: s, MandatoryValid: true, CriticalValid: true})
			Expect(out.Route).To(Equal(decision.RouteAccept), "score %.2f", s)
		}
	})

	It("never accepts below the review floor", func() {
		for s := 0.0; s < 70.0; s += 0.5 {
			out := engine.Decide(decision.Input{Score: s, MandatoryValid: true, CriticalValid: true})
			Expect(out.Route).To(Equal(decision.RouteReviewStrong), "score %.2f", s)
			Expect(out.Severity()).To(Equal(constants.SeverityStrongWarning))
		}
	})

	DescribeTable("bands",
		func(score float64, mandatory, critical bool, want decision.Route) {
			Expect(engine.Decide(decision.Input{Score: score, MandatoryValid: mandatory, CriticalValid: critical}).Route).To(Equal(want))
		},
		Entry("89.99 is review", 89.99, true, true, decision.RouteReview),
		Entry("70 is review", 70.0, true, true, decision.RouteReview),
		Entry("69.99 is strong review", 69.99, true, true, decision.RouteReviewStrong),
		Entry("high score with an invalid mandatory field", 95.0, false, true, decision.RouteReview),
		Entry("high score with an invalid critical field", 95.0, true, false, decision.RouteReview),
	)

	It("routes failures before looking at the score", func() {
		Expect(engine.Decide(decision.Input{Score: 99, MandatoryValid: true, CriticalValid: true, Failure: decision.FailurePermanent}).Route).
			To(Equal(decision.RouteFail))
		Expect(engine.Decide(decision.Input{Failure: decision.FailureTransient, Attempt: 1, MaxAttempts: 3}).Route).
			To(Equal(decision.RouteRetry))
		Expect(engine.Decide(decision.Input{Failure: decision.FailureTransient, Attempt: 3, MaxAttempts: 3}).Route).
			To(Equal(decision.RouteFail))
	})

	It("honours configured thresholds", func() {
		e := decision.NewEngine(decision.Thresholds{AutoAccept: 80, ReviewFloor: 50})
		Expect(e.Decide(decision.Input{Score: 81, MandatoryValid: true, CriticalValid: true}).Route).To(Equal(decision.RouteAccept))
		Expect(e.RequiresManualVerification(79.9)).To(BeTrue())
		Expect(e.RequiresManualVerification(80)).To(BeFalse())
	})
})

var _ = Describe("Next", func() {
	It("is total over statuses and events", func() {
		statuses := append([]constants.DocumentStatus{decision.StatusNone}, constants.AllStatuses...)
		for _, s := range statuses {
			for _, ev := range decision.AllEvents {
				to, ok := decision.Next(s, ev)
				if !ok {
					Expect(to).To(Equal(s))
				} else {
					Expect(constants.AllStatuses).To(ContainElement(to))
				}
			}
		}
	})

	DescribeTable("edges",
		func(from constants.DocumentStatus, ev decision.Event, want constants.DocumentStatus, wantOK bool) {
			to, ok := decision.Next(from, ev)
			Expect(ok).To(Equal(wantOK))
			Expect(to).To(Equal(want))
		},
		Entry(nil, decision.StatusNone, decision.EventSubmit, constants.StatusUploaded, true),
		Entry(nil, constants.StatusQueued, decision.EventDequeued, constants.StatusExtracting, true),
		Entry(nil, constants.StatusExtracting, decision.EventTransientFailure, constants.StatusRetryPending, true),
		Entry(nil, constants.StatusRetryPending, decision.EventRetry, constants.StatusQueued, true),
		Entry(nil, constants.StatusRetryPending, decision.EventExhausted, constants.StatusFailed, true),
		Entry(nil, constants.StatusDecided, decision.EventMaterializeFailed, constants.StatusReviewRequired, true),
		Entry(nil, constants.StatusReviewRequired, decision.EventCorrected, constants.StatusDecided, true),
		Entry(nil, constants.StatusScoring, decision.EventCancel, constants.StatusCancelled, true),
		Entry(nil, constants.StatusMaterialized, decision.EventCancel, constants.StatusMaterialized, false),
		Entry(nil, constants.StatusMaterialized, decision.EventOperatorReset, constants.StatusMaterialized, false),
		Entry(nil, constants.StatusQueued, decision.EventMaterialized, constants.StatusQueued, false),
	)

	It("leaves rest states only through explicit actions", func() {
		for _, s := range constants.AllStatuses {
			if !s.IsRest() {
				continue
			}
			for _, ev := range decision.AllEvents {
				to, ok := decision.Next(s, ev)
				if ok {
					Expect(ev).To(BeElementOf(decision.EventCorrected, decision.EventOperatorReset))
					Expect(to).NotTo(Equal(constants.StatusMaterialized))
				}
			}
		}
	})

	It("cancels immediately only while nothing is running", func() {
		Expect(decision.CancelImmediate(constants.StatusQueued)).To(BeTrue())
		Expect(decision.CancelImmediate(constants.StatusRetryPending)).To(BeTrue())
		Expect(decision.CancelImmediate(constants.StatusExtracting)).To(BeFalse())
	})
})
