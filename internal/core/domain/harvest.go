package domain

// HarvestPhase is the lifecycle phase of one object in the harvester pool.
type HarvestPhase int

const (
	// PhaseDiscovered means the lister produced the object.
	PhaseDiscovered HarvestPhase = iota

	// PhaseAdmitted means a pool slot was reserved for the object.
	PhaseAdmitted

	// PhaseReading means a worker is streaming its records.
	PhaseReading

	// PhaseCompleted means every record was acknowledged.
	PhaseCompleted

	// PhaseFailedRetryable means the last attempt failed transiently
	// and the object will be rediscovered after a backoff.
	PhaseFailedRetryable

	// PhaseFailedPermanent means the retry budget was exhausted.
	PhaseFailedPermanent
)

// String returns the phase name.
func (p HarvestPhase) String() string {
	switch p {
	case PhaseDiscovered:
		return "discovered"
	case PhaseAdmitted:
		return "admitted"
	case PhaseReading:
		return "reading"
	case PhaseCompleted:
		return "completed"
	case PhaseFailedRetryable:
		return "failed-retryable"
	case PhaseFailedPermanent:
		return "failed-permanent"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the object leaves the pool in this phase.
func (p HarvestPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailedPermanent
}
