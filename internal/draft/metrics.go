package draft

type RecoveryOutcome string

const (
	OutcomeAbsent      RecoveryOutcome = "absent"
	OutcomeUnavailable RecoveryOutcome = "unavailable"
	OutcomeCorrupt     RecoveryOutcome = "corrupt"
	OutcomeStale       RecoveryOutcome = "stale"
	OutcomeDeclined    RecoveryOutcome = "declined"
	OutcomeRestored    RecoveryOutcome = "restored"

	outcomeFresh RecoveryOutcome = "fresh"
)

// Metrics observes slot writes and recovery attempts.
type Metrics interface {
	SnapshotPersisted(op string, err error)
	RecoveryCompleted(outcome RecoveryOutcome)
}

type NoopMetrics struct{}

func (NoopMetrics) SnapshotPersisted(string, error)   {}
func (NoopMetrics) RecoveryCompleted(RecoveryOutcome) {}
