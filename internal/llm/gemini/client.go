// Package gemini reads invoices with Google Gemini.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/extract"
	"github.com/m3n3sx/faktulove3-sub000/internal/llm"
)

type Config struct {
	APIKey string
	Model  string // default "gemini-2.5-pro"
	// MaxPages bounds how many TIFF pages are rasterized.
	MaxPages int
}

// generator is the part of genai.GenerativeModel the client needs.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client implements extract.Backend.
type Client struct {
	client    *genai.Client
	model     generator
	modelName string
	maxPages  int
	logger    *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	c := newClient(model, cfg, logger)
	c.client = client
	return c, nil
}

func newClient(model generator, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	return &Client{model: model, modelName: cfg.Model, maxPages: cfg.MaxPages, logger: logger}
}

func (c *Client) Name() string { return constants.EngineGemini }

func (c *Client) Version() string { return c.modelName }

// Close closes the Gemini client
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Extract(ctx context.Context, in extract.Input) (extract.Output, error) {
	docParts, pages, err := c.documentParts(in)
	if err != nil {
		return extract.Output{}, extract.Unsupported(err)
	}
	parts := append(docParts,
		genai.Text(llm.BuildSystemPrompt(in.LocaleHint)),
		genai.Text(llm.BuildUserPrompt(in.Filename)),
	)

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		return extract.Output{}, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return extract.Output{}, extract.Unavailable(errors.New("no response from gemini"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	doc, _, err := llm.ParseInvoiceJSON(text.String(), c.logger)
	if err != nil {
		// Model replies vary between calls, so a malformed one is worth retrying.
		return extract.Output{}, extract.Unavailable(fmt.Errorf("gemini reply: %w", err))
	}
	out := toOutput(doc)
	out.Pages = pages
	out.Method = "gemini"
	return out, nil
}

// documentParts sends PDF, JPEG and PNG as they are and rasterizes TIFF pages to PNG.
func (c *Client) documentParts(in extract.Input) ([]genai.Part, int, error) {
	switch in.MIMEType {
	case constants.MIMEPDF:
		pages := 0
		if doc, err := fitz.NewFromMemory(in.Content); err == nil {
			pages = doc.NumPage()
			doc.Close()
		} else {
			return nil, 0, fmt.Errorf("opening PDF: %w", err)
		}
		return []genai.Part{genai.Blob{MIMEType: constants.MIMEPDF, Data: in.Content}}, pages, nil
	case constants.MIMEJPEG:
		return []genai.Part{genai.ImageData("jpeg", in.Content)}, 1, nil
	case constants.MIMEPNG:
		return []genai.Part{genai.ImageData("png", in.Content)}, 1, nil
	case constants.MIMETIFF:
		pngs, err := tiffToPNG(in.Content, c.maxPages)
		if err != nil {
			return nil, 0, err
		}
		parts := make([]genai.Part, 0, len(pngs))
		for _, p := range pngs {
			parts = append(parts, genai.ImageData("png", p))
		}
		return parts, len(pngs), nil
	}
	return nil, 0, fmt.Errorf("gemini cannot read %s", in.MIMEType)
}

func tiffToPNG(data []byte, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening TIFF: %w", err)
	}
	defer doc.Close()

	n := min(doc.NumPage(), maxPages)
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering TIFF page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
		out = append(out, buf.Bytes())
	}
	if len(out) == 0 {
		return nil, errors.New("TIFF has no pages")
	}
	return out, nil
}

func toOutput(doc llm.InvoiceDocument) extract.Output {
	fields := make(map[string]entity.Candidate, len(doc.Fields))
	for k, v := range doc.Fields {
		conf := v.Confidence
		if conf == 0 {
			conf = doc.Confidence
		}
		fields[k] = entity.Candidate{Value: v.Value, Confidence: conf * 100}
	}
	lines := make([]entity.LineCandidate, 0, len(doc.LineItems))
	for _, l := range doc.LineItems {
		lines = append(lines, entity.LineCandidate{
			Description:  l.Description,
			Quantity:     l.Quantity,
			UnitNetPrice: l.UnitNetPrice,
			TaxRate:      l.TaxRate,
			NetAmount:    l.NetAmount,
			TaxAmount:    l.TaxAmount,
			GrossAmount:  l.GrossAmount,
		})
	}
	return extract.Output{
		RawText:           doc.RawText,
		Fields:            fields,
		LineItems:         lines,
		OverallConfidence: doc.Confidence * 100,
	}
}

// classify maps API failures onto the engine error classes.
// Markers Gemini puts on a 400 when the key, not the document, is at fault.
var credentialMarkers = []string{"API_KEY_INVALID", "API key not valid", "API_KEY_SERVICE_BLOCKED"}

func credentialProblem(texts ...string) bool {
	for _, t := range texts {
		for _, m := range credentialMarkers {
			if strings.Contains(t, m) {
				return true
			}
		}
	}
	return false
}

func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return extract.Unsupported(err)
	}
	if credentialProblem(err.Error()) {
		return extract.Unavailable(err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		reasons := []string{gerr.Message, gerr.Body}
		for _, item := range gerr.Errors {
			reasons = append(reasons, item.Reason, item.Message)
		}
		switch {
		case credentialProblem(reasons...):
			return extract.Unavailable(err)
		case gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusUnprocessableEntity:
			return extract.Unsupported(err)
		case gerr.Code == http.StatusGatewayTimeout:
			return extract.Timeout(err)
		}
		return extract.Unavailable(err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument:
			return extract.Unsupported(err)
		case codes.DeadlineExceeded:
			return extract.Timeout(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return extract.Timeout(err)
	}
	return extract.Unavailable(err)
}
