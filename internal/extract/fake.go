package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
)

// Script is one scripted response of the fake backend.
type Script struct {
	Output Output
	Err    error
	Delay  time.Duration
}

// Fake is a deterministic backend. Scripts registered for a content hash are
// consumed in order, the last one repeating; otherwise the shared queue is
// consumed, then Default answers.
type Fake struct {
	mu      sync.Mutex
	byHash  map[string][]Script
	queue   []Script
	Default Script
	calls   int
}

func NewFake() *Fake {
	return &Fake{byHash: map[string][]Script{}, Default: Script{Output: FakeInvoiceOutput(96)}}
}

func (f *Fake) Name() string { return constants.EngineFake }

func (f *Fake) Version() string { return "1" }

// Push appends scripts answered in order by any document.
func (f *Fake) Push(s ...Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, s...)
}

// ForContent scripts the responses for one payload.
func (f *Fake) ForContent(content []byte, s ...Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[hashOf(content)] = append(f.byHash[hashOf(content)], s...)
}

// Calls reports how many extractions ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Extract(ctx context.Context, in Input) (Output, error) {
	s := f.next(in.Content)
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-t.C:
		}
	}
	if s.Err != nil {
		return Output{}, s.Err
	}
	return cloneOutput(s.Output), nil
}

func (f *Fake) next(content []byte) Script {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	h := hashOf(content)
	if scripts := f.byHash[h]; len(scripts) > 0 {
		s := scripts[0]
		if len(scripts) > 1 {
			f.byHash[h] = scripts[1:]
		}
		return s
	}
	if len(f.queue) > 0 {
		s := f.queue[0]
		f.queue = f.queue[1:]
		return s
	}
	return f.Default
}

func cloneOutput(o Output) Output {
	fields := make(map[string]entity.Candidate, len(o.Fields))
	for k, v := range o.Fields {
		fields[k] = v
	}
	o.Fields = fields
	o.LineItems = append([]entity.LineCandidate(nil), o.LineItems...)
	o.Warnings = append([]string(nil), o.Warnings...)
	return o
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FakeInvoiceOutput is a consistent Polish VAT invoice read at the given
// confidence.
func FakeInvoiceOutput(confidence float64) Output {
	c := func(v string) entity.Candidate { return entity.Candidate{Value: v, Confidence: confidence} }
	return Output{
		RawText: "FAKTURA VAT nr FV/2024/03/17\nSprzedawca: ACME Sp. z o.o. NIP 526-025-02-74\n" +
			"Nabywca: Beta S.A. NIP 774-000-14-54\nRazem netto 1 003,71 zł VAT 230,85 zł brutto 1 234,56 zł",
		Fields: map[string]entity.Candidate{
			constants.FieldInvoiceNumber: c("FV/2024/03/17"),
			constants.FieldIssueDate:     c("15.03.2024"),
			constants.FieldSaleDate:      c("15.03.2024"),
			constants.FieldDueDate:       c("29.03.2024"),
			constants.FieldSellerName:    c("ACME Sp. z o.o."),
			constants.FieldSellerTaxID:   c("526-025-02-74"),
			constants.FieldBuyerName:     c("Beta S.A."),
			constants.FieldBuyerTaxID:    c("774-000-14-54"),
			constants.FieldNetTotal:      c("1 003,71 zł"),
			constants.FieldTaxTotal:      c("230,85 zł"),
			constants.FieldGrossTotal:    c("1 234,56 zł"),
		},
		LineItems: []entity.LineCandidate{
			{Description: "Abonament serwisowy", Quantity: "1", UnitNetPrice: "803,71", TaxRate: "23%",
				NetAmount: "803,71", TaxAmount: "184,85", GrossAmount: "988,56"},
			{Description: "Dojazd", Quantity: "2", UnitNetPrice: "100,00", TaxRate: "23%",
				NetAmount: "200,00", TaxAmount: "46,00", GrossAmount: "246,00"},
		},
		OverallConfidence: confidence,
		Pages:             1,
		Method:            "fake",
	}
}
