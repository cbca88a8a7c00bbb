package ocr

import (
	"regexp"
	"strings"
)

// textLayerConfidence is the engine confidence of an embedded PDF text layer.
const textLayerConfidence = 0.98

var (
	reDate   = regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}[./-]\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	reCurr   = regexp.MustCompile(`zł|\bpln\b|\beur\b|€`)
	reAmount = regexp.MustCompile(`\b\d{1,3}([ .\x{00a0}]\d{3})*,\d{2}\b|\b\d+\.\d{2}\b`)
	reTaxID  = regexp.MustCompile(`\bnip\b`)
	reTitle  = regexp.MustCompile(`faktura|rachunek|invoice`)
)

// heuristicConfidence scores 0..1 by how invoice-like the decoded text is.
func heuristicConfidence(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 0.2
	if reTitle.MatchString(txtL) {
		score += 0.15
	}
	if reDate.MatchString(txtL) {
		score += 0.15
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reTaxID.MatchString(txtL) {
		score += 0.1
	}
	if len(txt) > 200 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// blend weights the engine's own confidence over the heuristic and returns 0..100.
func blend(engine, heuristic float64) float64 {
	var conf float64
	if engine > 0 {
		conf = 0.7*engine + 0.3*heuristic
	} else {
		conf = heuristic
	}
	if conf > 1 {
		conf = 1
	}
	return conf * 100
}
