// Package scoring turns an enhanced extraction into one document confidence.
package scoring

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/common"
	"github.com/m3n3sx/faktulove3-sub000/internal/entity"
	"github.com/m3n3sx/faktulove3-sub000/internal/rules"
)

// Field weights by importance.
const (
	WeightCritical  = 3
	WeightMandatory = 2
	WeightOptional  = 1
)

type Weights struct {
	Engine      float64
	Fields      float64
	Consistency float64
}

type Config struct {
	Weights Weights
	// CriticalCap bounds the score of an extraction with a critical failure.
	CriticalCap float64
	// Tolerance is the allowed difference between amounts that should agree.
	Tolerance decimal.Decimal
}

var DefaultConfig = Config{
	Weights:     Weights{Engine: 0.5, Fields: 0.3, Consistency: 0.2},
	CriticalCap: 60,
	Tolerance:   decimal.New(2, -2),
}

// Check is the outcome of one arithmetic consistency check.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Result explains a score.
type Result struct {
	Score       float64            `json:"score"`
	Engine      float64            `json:"engine"`
	FieldScore  float64            `json:"field_score"`
	Consistency float64            `json:"consistency"`
	Penalty     float64            `json:"penalty"`
	Capped      bool               `json:"capped"`
	Fields      map[string]float64 `json:"fields"`
	Checks      []Check            `json:"checks,omitempty"`
}

// Scorer is stateless; one instance is shared by all workers.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = DefaultConfig.Tolerance
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultConfig.Weights
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score computes
//
//	wEngine*engine + wFields*fields + wConsistency*consistency - penalties
//
// clamped to [0, 100] and rounded to two places. A critical failure caps the
// result at CriticalCap.
func (s *Scorer) Score(ext *entity.Extraction) Result {
	res := Result{
		Engine:  clamp(ext.EngineConfidence),
		Penalty: ext.Penalty(),
		Fields:  map[string]float64{},
	}

	mandatory := map[string]bool{}
	for _, f := range ext.Mandatory {
		mandatory[f] = true
	}
	names := make([]string, 0, len(ext.Fields)+len(ext.Mandatory))
	seen := map[string]bool{}
	for f := range ext.Fields {
		names = append(names, f)
		seen[f] = true
	}
	for _, f := range ext.Mandatory {
		if !seen[f] {
			names = append(names, f)
		}
	}
	sort.Strings(names)

	var sum, weights float64
	for _, f := range names {
		v := 0.0
		if c, ok := ext.Fields[f]; ok && c.State == entity.FieldValid {
			v = clamp(c.Confidence)
		}
		res.Fields[f] = v
		w := float64(WeightOptional)
		switch {
		case constants.IsCritical(f):
			w = WeightCritical
		case mandatory[f]:
			w = WeightMandatory
		}
		sum += w * v
		weights += w
	}
	if weights > 0 {
		res.FieldScore = round2(sum / weights)
	}

	res.Checks = s.consistency(ext)
	if len(res.Checks) > 0 {
		passed := 0
		for _, c := range res.Checks {
			if c.OK {
				passed++
			}
		}
		res.Consistency = round2(100 * float64(passed) / float64(len(res.Checks)))
	}

	w := s.cfg.Weights
	score := w.Engine*res.Engine + w.Fields*res.FieldScore + w.Consistency*res.Consistency - res.Penalty
	score = clamp(score)
	if ext.CriticalFailure && score > s.cfg.CriticalCap {
		score = s.cfg.CriticalCap
		res.Capped = true
	}
	res.Score = round2(score)

	s.logger.Debug("extraction scored",
		"document_id", ext.DocumentID,
		"score", res.Score,
		"engine", res.Engine,
		"fields", res.FieldScore,
		"consistency", res.Consistency,
		"penalty", res.Penalty,
		"capped", res.Capped,
	)
	return res
}

// Apply scores ext and records the result on it.
func (s *Scorer) Apply(ext *entity.Extraction) Result {
	res := s.Score(ext)
	ext.OverallConfidence = res.Score
	ext.FieldConfidence = res.Fields
	return res
}

func (s *Scorer) consistency(ext *entity.Extraction) []Check {
	var checks []Check
	net, hasNet := amount(ext, constants.FieldNetTotal)
	tax, hasTax := amount(ext, constants.FieldTaxTotal)
	gross, hasGross := amount(ext, constants.FieldGrossTotal)
	tol := s.cfg.Tolerance

	if hasNet && hasTax && hasGross {
		sum := net.Add(tax)
		checks = append(checks, check("totals", sum, gross, tol,
			fmt.Sprintf("net %s + tax %s = %s, gross %s", net.StringFixed(2), tax.StringFixed(2), sum.StringFixed(2), gross.StringFixed(2))))
	}

	lineNets, lineTax, ok := lineSums(ext.Lines)
	n := decimal.NewFromInt(int64(len(ext.Lines)))
	if ok && hasNet {
		checks = append(checks, check("lines_net", lineNets, net, tol.Mul(n),
			fmt.Sprintf("lines %s, net %s", lineNets.StringFixed(2), net.StringFixed(2))))
	}
	if hasTax {
		switch {
		case ok && lineTax != nil:
			checks = append(checks, check("tax_rate", *lineTax, tax, tol.Mul(n),
				fmt.Sprintf("rated lines %s, tax %s", lineTax.StringFixed(2), tax.StringFixed(2))))
		case len(ext.Lines) == 0 && hasNet:
			if frac, ok := rules.RateFraction(ext.Value(constants.FieldTaxRate)); ok && validField(ext, constants.FieldTaxRate) {
				want := net.Mul(frac).Round(2)
				checks = append(checks, check("tax_rate", want, tax, tol,
					fmt.Sprintf("net %s at %s%% is %s, tax %s", net.StringFixed(2), ext.Value(constants.FieldTaxRate), want.StringFixed(2), tax.StringFixed(2))))
			}
		}
	}
	return checks
}

// lineSums returns the sum of line net amounts and, when every line carries a
// usable rate, the tax those rates imply. ok is false when a line has no net
// amount and none can be derived from quantity and unit price.
func lineSums(lines []entity.LineCandidate) (decimal.Decimal, *decimal.Decimal, bool) {
	if len(lines) == 0 {
		return decimal.Zero, nil, false
	}
	nets := decimal.Zero
	tax := decimal.Zero
	rated := true
	for _, l := range lines {
		net, err := decimal.NewFromString(l.NetAmount)
		if err != nil {
			qty, qerr := decimal.NewFromString(l.Quantity)
			unit, uerr := decimal.NewFromString(l.UnitNetPrice)
			if qerr != nil || uerr != nil {
				return decimal.Zero, nil, false
			}
			net = qty.Mul(unit).Round(2)
		}
		nets = nets.Add(net)
		if frac, ok := rules.RateFraction(l.TaxRate); ok && l.TaxRate != "" {
			tax = tax.Add(net.Mul(frac))
		} else {
			rated = false
		}
	}
	if !rated {
		return nets, nil, true
	}
	tax = tax.Round(2)
	return nets, &tax, true
}

func check(name string, got, want, tol decimal.Decimal, detail string) Check {
	return Check{Name: name, OK: got.Sub(want).Abs().LessThanOrEqual(tol), Detail: detail}
}

func validField(ext *entity.Extraction, field string) bool {
	c, ok := ext.Fields[field]
	return ok && c.State == entity.FieldValid
}

func amount(ext *entity.Extraction, field string) (decimal.Decimal, bool) {
	if !validField(ext, field) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(ext.Fields[field].Value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FromPolicy builds a Config from the configured policy.
func FromPolicy(p common.PolicyConfig) Config {
	cfg := DefaultConfig
	cfg.CriticalCap = p.CriticalCap
	if p.EngineWeight+p.FieldsWeight+p.ConsistencyWeight > 0 {
		cfg.Weights = Weights{Engine: p.EngineWeight, Fields: p.FieldsWeight, Consistency: p.ConsistencyWeight}
	}
	return cfg
}
