package detector

import "time"

type EventType string

const (
	EventJailed               EventType = "jailed"
	EventRecovered            EventType = "recovered"
	EventRemediationScheduled EventType = "remediation_scheduled"
	EventRemediationSucceeded EventType = "remediation_succeeded"
	EventRemediationFailed    EventType = "remediation_failed"
	EventRosterSummary        EventType = "roster_summary"
)

// Event is one observed transition, produced by the detector (jail and
// recovery transitions) or the remediation scheduler (attempt outcomes).
type Event struct {
	Type         EventType
	Validator    string // normalized address
	Name         string
	Stake        string // integer string, never parsed as float
	RecentBlocks int
	JailedSince  time.Time
	UnjailAt     time.Time // when the next remediation attempt fires, zero if none
	Attempt      int
	MaxAttempts  int
	Timestamp    time.Time
}
