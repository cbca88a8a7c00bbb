package constants

// DocumentStatus is the canonical processing_status of a row in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusUploaded       DocumentStatus = "uploaded"
	StatusValidating     DocumentStatus = "validating"
	StatusQueued         DocumentStatus = "queued"
	StatusExtracting     DocumentStatus = "extracting"
	StatusEnhancing      DocumentStatus = "enhancing"
	StatusScoring        DocumentStatus = "scoring"
	StatusDecided        DocumentStatus = "decided"
	StatusRetryPending   DocumentStatus = "retry_pending"   // transient failure, waiting for backoff
	StatusMaterialized   DocumentStatus = "materialized"    // rest state
	StatusReviewRequired DocumentStatus = "review_required" // rest state
	StatusFailed         DocumentStatus = "failed"          // rest state
	StatusCancelled      DocumentStatus = "cancelled"       // rest state
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []DocumentStatus{
	StatusUploaded,
	StatusValidating,
	StatusQueued,
	StatusExtracting,
	StatusEnhancing,
	StatusScoring,
	StatusDecided,
	StatusRetryPending,
	StatusMaterialized,
	StatusReviewRequired,
	StatusFailed,
	StatusCancelled,
}

// IsRest reports whether no further automatic transition will happen.
func (s DocumentStatus) IsRest() bool {
	switch s {
	case StatusMaterialized, StatusReviewRequired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal is true for statuses only an explicit operator action can leave.
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case StatusMaterialized, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// InFlight reports whether a worker owns the document in this status.
func (s DocumentStatus) InFlight() bool {
	switch s {
	case StatusValidating, StatusExtracting, StatusEnhancing, StatusScoring, StatusDecided:
		return true
	}
	return false
}

// TicketStatus is the lifecycle of a review_tickets row.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketCorrected TicketStatus = "corrected"
	TicketClosed    TicketStatus = "closed"
)

// TicketSeverity tells the reviewer how much the pipeline distrusts the extraction.
type TicketSeverity string

const (
	SeverityWarning       TicketSeverity = "warning"        // 70..89
	SeverityStrongWarning TicketSeverity = "strong_warning" // < 70
	SeverityAttention     TicketSeverity = "attention"      // validation failed after accept
)

// Actors recorded in processing_log.
const (
	ActorSystem   = "system"
	ActorIngest   = "ingest"
	ActorOperator = "operator"
	ActorOwner    = "owner"
	ActorReviewer = "reviewer"
)
