package decision

import (
	"github.com/m3n3sx/faktulove3-sub000/constants"
)

// Event is something that happened to a document.
type Event string

const (
	EventSubmit            Event = "submit"
	EventValidate          Event = "validate"
	EventValidated         Event = "validated"
	EventRejected          Event = "rejected"
	EventDequeued          Event = "dequeued"
	EventExtracted         Event = "extracted"
	EventEnhanced          Event = "enhanced"
	EventScored            Event = "scored"
	EventReview            Event = "review"
	EventTransientFailure  Event = "transient_failure"
	EventPermanentFailure  Event = "permanent_failure"
	EventRetry             Event = "retry"
	EventExhausted         Event = "exhausted"
	EventMaterialized      Event = "materialized"
	EventMaterializeFailed Event = "materialize_failed"
	EventCorrected         Event = "corrected"
	EventCancel            Event = "cancel"
	EventOperatorReset     Event = "operator_reset"
)

// AllEvents lists every event.
var AllEvents = []Event{
	EventSubmit, EventValidate, EventValidated, EventRejected, EventDequeued,
	EventExtracted, EventEnhanced, EventScored, EventReview,
	EventTransientFailure, EventPermanentFailure, EventRetry, EventExhausted,
	EventMaterialized, EventMaterializeFailed, EventCorrected, EventCancel,
	EventOperatorReset,
}

// StatusNone is the state before a document exists.
const StatusNone constants.DocumentStatus = ""

type edge struct {
	from  constants.DocumentStatus
	event Event
}

var transitions = map[edge]constants.DocumentStatus{
	{StatusNone, EventSubmit}: constants.StatusUploaded,

	{constants.StatusUploaded, EventValidate}:    constants.StatusValidating,
	{constants.StatusValidating, EventValidated}: constants.StatusQueued,
	{constants.StatusValidating, EventRejected}:  constants.StatusFailed,

	{constants.StatusQueued, EventDequeued}:     constants.StatusExtracting,
	{constants.StatusExtracting, EventExtracted}: constants.StatusEnhancing,
	{constants.StatusEnhancing, EventEnhanced}:   constants.StatusScoring,
	{constants.StatusScoring, EventScored}:       constants.StatusDecided,

	{constants.StatusDecided, EventMaterialized}:      constants.StatusMaterialized,
	{constants.StatusDecided, EventReview}:            constants.StatusReviewRequired,
	{constants.StatusDecided, EventMaterializeFailed}: constants.StatusReviewRequired,

	{constants.StatusRetryPending, EventRetry}:     constants.StatusQueued,
	{constants.StatusRetryPending, EventExhausted}: constants.StatusFailed,

	{constants.StatusReviewRequired, EventCorrected}: constants.StatusDecided,

	{constants.StatusFailed, EventOperatorReset}:         constants.StatusQueued,
	{constants.StatusReviewRequired, EventOperatorReset}: constants.StatusQueued,
	{constants.StatusCancelled, EventOperatorReset}:      constants.StatusQueued,
}

func init() {
	for _, s := range constants.AllStatuses {
		if s.InFlight() {
			transitions[edge{s, EventTransientFailure}] = constants.StatusRetryPending
			transitions[edge{s, EventPermanentFailure}] = constants.StatusFailed
		}
		if s.InFlight() || s == constants.StatusUploaded || s == constants.StatusQueued || s == constants.StatusRetryPending {
			transitions[edge{s, EventCancel}] = constants.StatusCancelled
		}
	}
}

// Next returns the status a document in from moves to on event. Every pair
// has an answer: illegal pairs return from unchanged and ok=false.
func Next(from constants.DocumentStatus, event Event) (constants.DocumentStatus, bool) {
	if to, ok := transitions[edge{from, event}]; ok {
		return to, true
	}
	return from, false
}

// CancelImmediate reports whether a cancel request in s takes effect at once
// rather than at the worker's next suspension point.
func CancelImmediate(s constants.DocumentStatus) bool {
	switch s {
	case constants.StatusUploaded, constants.StatusQueued, constants.StatusRetryPending:
		return true
	}
	return false
}
