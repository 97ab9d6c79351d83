package driving

import "context"

// Pipeline runs discovery, harvesting and delivery.
type Pipeline interface {
	// Run blocks until ctx is cancelled (returning nil) or a process-level
	// failure occurs (returning it). In once mode it returns after every
	// discovered object reached a terminal phase.
	Run(ctx context.Context) error

	// Status returns a snapshot of the pipeline counters.
	Status() PipelineStatus
}

// PipelineStatus is a snapshot of pipeline activity since start.
type PipelineStatus struct {
	// Running indicates Run is in progress.
	Running bool

	ObjectsListed    int64
	ObjectsAdmitted  int64
	ObjectsCompleted int64
	ObjectsFailed    int64
	ObjectsRetried   int64

	RecordsPublished int64
	RecordsAcked     int64
	RecordsMalformed int64

	BatchesSent    int64
	BatchesRetried int64
	BatchesFailed  int64

	ListingErrors int64

	MessagesReceived int64
	MessagesDeleted  int64

	// IncompleteAtStart is the number of partially read objects found on startup.
	IncompleteAtStart int
}
