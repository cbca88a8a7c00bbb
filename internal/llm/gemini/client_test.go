package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
)

type fakeModel struct {
	reply string
	err   error
	parts []genai.Part
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}},
	}}}, nil
}

var _ = Describe("Client", func() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	png := []byte("\x89PNG\r\n\x1a\n....")
	in := extract.Input{Content: png, MIMEType: constants.MIMEPNG, Filename: "fv.png", LocaleHint: "pl-PL"}

	It("turns a fenced JSON reply into engine output", func() {
		model := &fakeModel{reply: "```json\n" + `{
			"fields": {
				"invoice_number": {"value": "FV/1/2024", "confidence": 0.97},
				"gross_total": {"value": 1234.56},
				"seller_tax_id": "526-025-02-74",
				"iban": {"value": "PL00"}
			},
			"line_items": [{"description": "Usługa", "net_amount": 100}],
			"confidence": 92
		}` + "\n```"}
		c := newClient(model, Config{Model: "gemini-test"}, logger)

		out, err := c.Extract(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Name()).To(Equal(constants.EngineGemini))
		Expect(c.Version()).To(Equal("gemini-test"))
		Expect(out.OverallConfidence).To(BeNumerically("~", 92, 1e-9))
		Expect(out.Fields).To(HaveLen(3))
		Expect(out.Fields[constants.FieldInvoiceNumber].Value).To(Equal("FV/1/2024"))
		Expect(out.Fields[constants.FieldInvoiceNumber].Confidence).To(BeNumerically("~", 97, 1e-9))
		Expect(out.Fields[constants.FieldGrossTotal].Value).To(Equal("1234.56"))
		Expect(out.Fields[constants.FieldSellerTaxID].Confidence).To(BeNumerically("~", 92, 1e-9))
		Expect(out.LineItems).To(HaveLen(1))
		Expect(out.LineItems[0].NetAmount).To(Equal("100"))
		Expect(out.Pages).To(Equal(1))

		Expect(model.parts).To(HaveLen(3))
		Expect(model.parts[0]).To(Equal(genai.ImageData("png", png)))
	})

	It("treats an unusable reply as a transient failure", func() {
		c := newClient(&fakeModel{reply: "I cannot read this document."}, Config{}, logger)
		_, err := c.Extract(context.Background(), in)
		Expect(err).To(MatchError(common.ErrEngineUnavailable))

		c = newClient(&fakeModel{reply: `{"fields": {}}`}, Config{}, logger)
		_, err = c.Extract(context.Background(), in)
		Expect(err).To(MatchError(common.ErrEngineUnavailable))
	})

	It("refuses formats it cannot send", func() {
		c := newClient(&fakeModel{}, Config{}, logger)
		_, err := c.Extract(context.Background(), extract.Input{Content: []byte("x"), MIMEType: "text/plain"})
		Expect(err).To(MatchError(common.ErrUnsupportedFormat))
	})

	DescribeTable("classifies API errors",
		func(err error, want error) {
			c := newClient(&fakeModel{err: err}, Config{}, logger)
			_, got := c.Extract(context.Background(), in)
			Expect(got).To(MatchError(want))
		},
		Entry("bad request", &googleapi.Error{Code: 400}, common.ErrUnsupportedFormat),
		Entry("invalid key", &googleapi.Error{Code: 400, Message: "API key not valid. Please pass a valid API key."}, common.ErrEngineUnavailable),
		Entry("invalid key reason", &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Reason: "API_KEY_INVALID"}}}, common.ErrEngineUnavailable),
		Entry("grpc invalid key", status.Error(codes.InvalidArgument, "API key not valid. Please pass a valid API key."), common.ErrEngineUnavailable),
		Entry("server error", &googleapi.Error{Code: 503}, common.ErrEngineUnavailable),
		Entry("gateway timeout", &googleapi.Error{Code: 504}, common.ErrEngineTimeout),
		Entry("grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), common.ErrUnsupportedFormat),
		Entry("grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), common.ErrEngineTimeout),
		Entry("blocked", &genai.BlockedError{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}}, common.ErrUnsupportedFormat),
		Entry("transport", errors.New("connection reset"), common.ErrEngineUnavailable),
		Entry("deadline", context.DeadlineExceeded, common.ErrEngineTimeout),
	)
})
