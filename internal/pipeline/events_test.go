package pipeline_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/pipeline"
)

var _ = Describe("Bus", func() {
	var bus *pipeline.Bus

	BeforeEach(func() {
		bus = pipeline.NewBus(discard)
	})

	It("filters by status and keeps subscription order", func() {
		var got []string
		bus.Subscribe(func(context.Context, pipeline.Event) { got = append(got, "all") })
		bus.Subscribe(func(context.Context, pipeline.Event) { got = append(got, "retry") }, constants.StatusRetryPending)

		bus.Publish(context.Background(), pipeline.Event{DocumentID: uuid.New(), Status: constants.StatusQueued})
		bus.Publish(context.Background(), pipeline.Event{DocumentID: uuid.New(), Status: constants.StatusRetryPending})
		Expect(got).To(Equal([]string{"all", "all", "retry"}))
	})

	It("stops delivering after unsubscribe", func() {
		n := 0
		unsubscribe := bus.Subscribe(func(context.Context, pipeline.Event) { n++ })
		bus.Publish(context.Background(), pipeline.Event{})
		unsubscribe()
		bus.Publish(context.Background(), pipeline.Event{})
		Expect(n).To(Equal(1))
	})

	It("survives a panicking handler", func() {
		reached := false
		bus.Subscribe(func(context.Context, pipeline.Event) { panic("boom") })
		bus.Subscribe(func(context.Context, pipeline.Event) { reached = true })
		Expect(func() { bus.Publish(context.Background(), pipeline.Event{}) }).NotTo(Panic())
		Expect(reached).To(BeTrue())
	})

	It("ignores publishing on a nil bus", func() {
		var nilBus *pipeline.Bus
		Expect(func() { nilBus.Publish(context.Background(), pipeline.Event{}) }).NotTo(Panic())
	})
})

var _ = Describe("Backoff", func() {
	DescribeTable("doubles from the base up to the cap",
		func(attempt int, want time.Duration) {
			b := pipeline.Backoff{Base: 5 * time.Second, Cap: time.Minute}
			Expect(b.Delay(attempt)).To(Equal(want))
		},
		Entry("first retry", 1, 5*time.Second),
		Entry("second retry", 2, 10*time.Second),
		Entry("fourth retry", 4, 40*time.Second),
		Entry("capped", 5, time.Minute),
		Entry("far beyond the cap", 40, time.Minute),
		Entry("attempt zero behaves like the first", 0, 5*time.Second),
	)
})
