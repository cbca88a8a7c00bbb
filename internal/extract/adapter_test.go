package extract_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
)

var _ = Describe("ValidateUpload", func() {
	DescribeTable("accepts",
		func(content []byte, declared, want string) {
			mime, err := extract.ValidateUpload(content, declared, nil, 1<<20)
			Expect(err).NotTo(HaveOccurred())
			Expect(mime).To(Equal(want))
		},
		Entry("a declared PDF", pdfBytes, "application/pdf", constants.MIMEPDF),
		Entry("a PDF declared with parameters", pdfBytes, "Application/PDF; charset=binary", constants.MIMEPDF),
		Entry("an undeclared PNG", pngBytes, "", constants.MIMEPNG),
		Entry("an octet-stream PNG", pngBytes, "application/octet-stream", constants.MIMEPNG),
	)

	DescribeTable("rejects with a ValidationError",
		func(content []byte, declared string, max int64, allowed []string) {
			_, err := extract.ValidateUpload(content, declared, allowed, max)
			Expect(err).To(MatchError(common.ErrValidation))
		},
		Entry("an executable", exeBytes, "application/x-msdownload", int64(1<<20), nil),
		Entry("an executable posing as a PDF", exeBytes, "application/pdf", int64(1<<20), nil),
		Entry("a PNG declared as PDF", pngBytes, "application/pdf", int64(1<<20), nil),
		Entry("an empty payload", []byte{}, "application/pdf", int64(1<<20), nil),
		Entry("an oversized payload", pdfBytes, "application/pdf", int64(8), nil),
		Entry("a type outside the configured list", pngBytes, "image/png", int64(1<<20), []string{constants.MIMEPDF}),
	)
})

var _ = Describe("Adapter", func() {
	var (
		fake    *extract.Fake
		adapter *extract.Adapter
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = extract.NewFake()
		adapter = extract.NewAdapter(fake, extract.AdapterConfig{MaxBytes: 1 << 20, Timeout: 50 * time.Millisecond}, discard)
	})

	It("stamps the engine and clamps confidences", func() {
		out := extract.FakeInvoiceOutput(96)
		out.OverallConfidence = 130
		out.Fields[constants.FieldInvoiceNumber] = entity.Candidate{Value: "FV/1", Confidence: -4, State: entity.FieldValid}
		fake.Push(extract.Script{Output: out})

		got, err := adapter.Extract(ctx, extract.Input{Content: pdfBytes, MIMEType: constants.MIMEPDF})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EngineID).To(Equal(constants.EngineFake))
		Expect(got.EngineVersion).To(Equal("1"))
		Expect(got.OverallConfidence).To(Equal(100.0))
		Expect(got.Fields[constants.FieldInvoiceNumber].Confidence).To(Equal(0.0))
		Expect(got.Fields[constants.FieldInvoiceNumber].State).To(Equal(entity.FieldUnchecked))
	})

	It("never calls the backend for rejected input", func() {
		_, err := adapter.Extract(ctx, extract.Input{Content: exeBytes, MIMEType: "application/x-msdownload"})
		Expect(err).To(MatchError(common.ErrValidation))
		Expect(fake.Calls()).To(BeZero())
	})

	It("turns a slow backend into EngineTimeout", func() {
		fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(96), Delay: time.Second})
		_, err := adapter.Extract(ctx, extract.Input{Content: pdfBytes})
		Expect(err).To(MatchError(common.ErrEngineTimeout))
		Expect(common.IsTransient(err)).To(BeTrue())
	})

	DescribeTable("normalizes backend errors",
		func(backendErr, want error) {
			fake.Push(extract.Script{Err: backendErr})
			_, err := adapter.Extract(ctx, extract.Input{Content: pdfBytes})
			Expect(err).To(MatchError(want))
		},
		Entry("unknown errors are unavailable", errors.New("connection reset"), common.ErrEngineUnavailable),
		Entry("classified errors are kept", extract.Unsupported(errors.New("encrypted pdf")), common.ErrUnsupportedFormat),
		Entry("deadlines are timeouts", context.DeadlineExceeded, common.ErrEngineTimeout),
	)

	It("passes an owner cancellation through", func() {
		cctx, cancel := context.WithCancelCause(ctx)
		cancel(common.ErrCancelled)
		fake.Push(extract.Script{Output: extract.FakeInvoiceOutput(96), Delay: time.Second})
		_, err := adapter.Extract(cctx, extract.Input{Content: pdfBytes})
		Expect(err).To(MatchError(common.ErrCancelled))
		Expect(common.IsTransient(err)).To(BeFalse())
	})
})

var _ = Describe("Fake", func() {
	It("answers per content first, then the queue, then the default", func() {
		f := extract.NewFake()
		f.ForContent(pngBytes, extract.Script{Err: extract.Unavailable(nil)}, extract.Script{Output: extract.FakeInvoiceOutput(50)})
		f.Push(extract.Script{Output: extract.FakeInvoiceOutput(70)})

		_, err := f.Extract(context.Background(), extract.Input{Content: pngBytes})
		Expect(err).To(MatchError(common.ErrEngineUnavailable))
		out, _ := f.Extract(context.Background(), extract.Input{Content: pngBytes})
		Expect(out.OverallConfidence).To(Equal(50.0))
		out, _ = f.Extract(context.Background(), extract.Input{Content: pngBytes})
		Expect(out.OverallConfidence).To(Equal(50.0))

		out, _ = f.Extract(context.Background(), extract.Input{Content: pdfBytes})
		Expect(out.OverallConfidence).To(Equal(70.0))
		out, _ = f.Extract(context.Background(), extract.Input{Content: pdfBytes})
		Expect(out.OverallConfidence).To(Equal(96.0))
		Expect(f.Calls()).To(Equal(5))
	})

	It("hands out copies", func() {
		f := extract.NewFake()
		out, _ := f.Extract(context.Background(), extract.Input{Content: pdfBytes})
		out.Fields[constants.FieldInvoiceNumber] = entity.Candidate{Value: "changed"}
		again, _ := f.Extract(context.Background(), extract.Input{Content: pdfBytes})
		Expect(again.Fields[constants.FieldInvoiceNumber].Value).To(Equal("FV/2024/03/17"))
	})
})

var _ = Describe("Registry", func() {
	It("looks backends up by name", func() {
		r := extract.NewRegistry(extract.NewFake())
		b, err := r.Get(constants.EngineFake)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Name()).To(Equal(constants.EngineFake))
		_, err = r.Get(constants.EngineGemini)
		Expect(err).To(MatchError(ContainSubstring("unknown engine backend")))
		Expect(r.Names()).To(Equal([]string{constants.EngineFake}))
	})
})

var _ = Describe("Output", func() {
	It("becomes an extraction carrying the raw candidates", func() {
		out := extract.FakeInvoiceOutput(88)
		out.EngineID = constants.EngineFake
		ext := out.Extraction()
		Expect(ext.RawFields).To(HaveKey(constants.FieldSellerTaxID))
		Expect(ext.RawLines).To(HaveLen(2))
		Expect(ext.EngineConfidence).To(Equal(88.0))
		Expect(ext.EngineID).To(Equal(constants.EngineFake))
	})
})
