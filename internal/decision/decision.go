package decision

import (
	"fmt"

	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Failure classifies how the engine stage ended.
type Failure int

const (
	FailureNone Failure = iota
	FailureTransient
	FailurePermanent
)

// Route is what the pipeline does with a document next.
type Route string

const (
	RouteAccept       Route = "accept"
	RouteReview       Route = "review"
	RouteReviewStrong Route = "review_strong"
	RouteRetry        Route = "retry"
	RouteFail         Route = "fail"
)

// Thresholds are the confidence bands. Scores at or above AutoAccept are
// accepted, scores below ReviewFloor get a strong warning.
type Thresholds struct {
	AutoAccept  float64
	ReviewFloor float64
}

// DefaultThresholds are the contractual defaults.
var DefaultThresholds = Thresholds{AutoAccept: 90, ReviewFloor: 70}

type Input struct {
	Score          float64
	MandatoryValid bool
	CriticalValid  bool
	Failure        Failure
	Attempt        int
	MaxAttempts    int
}

// Outcome is the routing decision plus a rationale for the processing log.
type Outcome struct {
	Route     Route
	Rationale string
}

// Severity maps a review route to the ticket severity shown to reviewers.
func (o Outcome) Severity() constants.TicketSeverity {
	if o.Route == RouteReviewStrong {
		return constants.SeverityStrongWarning
	}
	return constants.SeverityWarning
}

// Engine applies Thresholds. It is stateless and safe for concurrent use.
type Engine struct {
	t Thresholds
}

func NewEngine(t Thresholds) *Engine {
	if t.AutoAccept == 0 && t.ReviewFloor == 0 {
		t = DefaultThresholds
	}
	return &Engine{t: t}
}

func (e *Engine) Thresholds() Thresholds { return e.t }

// Decide routes one document. Failures are considered before the score.
func (e *Engine) Decide(in Input) Outcome {
	switch in.Failure {
	case FailurePermanent:
		return Outcome{Route: RouteFail, Rationale: "permanent engine failure"}
	case FailureTransient:
		if in.Attempt < in.MaxAttempts {
			return Outcome{Route: RouteRetry, Rationale: fmt.Sprintf("transient failure, attempt %d of %d", in.Attempt, in.MaxAttempts)}
		}
		return Outcome{Route: RouteFail, Rationale: fmt.Sprintf("retries exhausted after %d attempts", in.Attempt)}
	}

	switch {
	case in.Score < e.t.ReviewFloor:
		return Outcome{Route: RouteReviewStrong, Rationale: fmt.Sprintf("confidence %.2f below review floor %.2f", in.Score, e.t.ReviewFloor)}
	case in.Score < e.t.AutoAccept:
		return Outcome{Route: RouteReview, Rationale: fmt.Sprintf("confidence %.2f below auto-accept %.2f", in.Score, e.t.AutoAccept)}
	case !in.CriticalValid:
		return Outcome{Route: RouteReview, Rationale: fmt.Sprintf("confidence %.2f but a critical field is invalid", in.Score)}
	case !in.MandatoryValid:
		return Outcome{Route: RouteReview, Rationale: fmt.Sprintf("confidence %.2f but a mandatory field is invalid", in.Score)}
	}
	return Outcome{Route: RouteAccept, Rationale: fmt.Sprintf("confidence %.2f with all mandatory fields valid", in.Score)}
}

// RequiresManualVerification is the invoice flag for a given confidence.
func (e *Engine) RequiresManualVerification(score float64) bool {
	return score < e.t.AutoAccept
}
