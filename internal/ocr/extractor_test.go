package ocr_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/ocr"
)

type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(name string, args []string) ([]byte, []byte, error)
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string{name}, args...))
	s.mu.Unlock()
	return s.fn(name, args)
}

func (s *stubRunner) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c[0])
	}
	return out
}

type exitError struct{ code int }

func (e exitError) Error() string { return "exit status" }
func (e exitError) ExitCode() int { return e.code }

const tsv = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t10\t90\tFAKTURA\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t50\t10\t70\tVAT\n"

var _ = Describe("Extractor", func() {
	var (
		runner *stubRunner
		ex     *ocr.Extractor
		ctx    context.Context
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pdf := []byte("%PDF-1.7\n...")
	png := []byte("\x89PNG\r\n\x1a\n....")

	BeforeEach(func() {
		ctx = context.Background()
		runner = &stubRunner{}
		ex = ocr.NewExtractorWithRunner(ocr.Config{EnableTSVConfidence: true}, runner, logger)
	})

	It("uses the PDF text layer when there is one", func() {
		runner.fn = func(name string, args []string) ([]byte, []byte, error) {
			Expect(name).To(Equal("pdftotext"))
			Expect(args[:2]).To(Equal([]string{"-layout", "-enc"}))
			Expect(args[len(args)-2]).To(HaveSuffix(".pdf"))
			return []byte(stackedInvoice), nil, nil
		}
		res, err := ex.ExtractBytes(ctx, pdf, constants.MIMEPDF)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Method).To(Equal("pdf-text"))
		Expect(res.Pages).To(Equal(1))
		Expect(res.Confidence).To(BeNumerically("~", 98.6, 0.01))
		Expect(res.Fields[constants.FieldSellerTaxID].Value).To(Equal("526-025-02-74"))
		Expect(res.Fields[constants.FieldSellerTaxID].Confidence).To(Equal(res.Confidence))
		Expect(res.Lines).To(HaveLen(2))
	})

	It("rasterizes a scanned PDF and reads each page", func() {
		runner.fn = func(name string, args []string) ([]byte, []byte, error) {
			switch name {
			case "pdftotext":
				return []byte("\f"), nil, nil
			case "pdftoppm":
				prefix := args[len(args)-1]
				for _, p := range []string{"-1.png", "-2.png"} {
					Expect(os.WriteFile(prefix+p, png, 0o600)).To(Succeed())
				}
				return nil, nil, nil
			case "tesseract":
				if args[len(args)-1] == "tsv" {
					return []byte(tsv), nil, nil
				}
				if strings.HasSuffix(args[0], "-1.png") {
					return []byte("FAKTURA VAT nr FV/1/2024"), nil, nil
				}
				return []byte("Do zapłaty: 12,30 zł"), nil, nil
			}
			return nil, nil, errors.New("unexpected command " + name)
		}
		res, err := ex.ExtractBytes(ctx, pdf, constants.MIMEPDF)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Method).To(Equal("pdf-ocr"))
		Expect(res.Pages).To(Equal(2))
		Expect(res.Text).To(ContainSubstring("FV/1/2024"))
		Expect(res.Text).To(ContainSubstring("12,30"))
		Expect(res.Fields[constants.FieldInvoiceNumber].Value).To(Equal("FV/1/2024"))
		Expect(res.Fields[constants.FieldGrossTotal].Value).To(Equal("12,30 zł"))
		Expect(res.Confidence).To(BeNumerically(">", 0))
		Expect(res.Confidence).To(BeNumerically("<=", 100))
	})

	It("blends the tesseract TSV confidence for images", func() {
		runner.fn = func(name string, args []string) ([]byte, []byte, error) {
			Expect(name).To(Equal("tesseract"))
			Expect(args).To(ContainElements("-l", "pol+eng"))
			if args[len(args)-1] == "tsv" {
				return []byte(tsv), nil, nil
			}
			return []byte("Lorem ipsum"), nil, nil
		}
		res, err := ex.ExtractBytes(ctx, png, constants.MIMEPNG)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Method).To(Equal("image-ocr"))
		// mean word confidence 0.8, heuristic 0.2
		Expect(res.Confidence).To(BeNumerically("~", 62, 0.001))
		Expect(runner.commands()).To(Equal([]string{"tesseract", "tesseract"}))
	})

	It("reports documents the tools reject as unsupported", func() {
		runner.fn = func(string, []string) ([]byte, []byte, error) {
			return nil, []byte("Syntax Error: Couldn't find trailer dictionary\nMay not be a PDF file"), exitError{code: 1}
		}
		_, err := ex.ExtractBytes(ctx, pdf, constants.MIMEPDF)
		Expect(err).To(MatchError(common.ErrUnsupportedFormat))
	})

	It("reports a missing binary as an unavailable engine", func() {
		runner.fn = func(string, []string) ([]byte, []byte, error) {
			return nil, nil, errors.New(`exec: "tesseract": executable file not found in $PATH`)
		}
		_, err := ex.ExtractBytes(ctx, png, constants.MIMEPNG)
		Expect(err).To(MatchError(common.ErrEngineUnavailable))
	})

	It("rejects MIME types it cannot read", func() {
		_, err := ex.ExtractBytes(ctx, []byte("MZ"), "application/x-msdownload")
		Expect(err).To(MatchError(common.ErrUnsupportedFormat))
		Expect(runner.calls).To(BeEmpty())
	})
})
