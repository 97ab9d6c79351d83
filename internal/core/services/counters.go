package services

import (
	"sync/atomic"

	"github.com/sequra/s3logsbeat/internal/core/ports/driving"
)

// Counters aggregates pipeline activity. Shared by every component.
type Counters struct {
	objectsListed    atomic.Int64
	objectsAdmitted  atomic.Int64
	objectsCompleted atomic.Int64
	objectsFailed    atomic.Int64
	objectsRetried   atomic.Int64

	recordsPublished atomic.Int64
	recordsAcked     atomic.Int64
	recordsMalformed atomic.Int64

	batchesSent    atomic.Int64
	batchesRetried atomic.Int64
	batchesFailed  atomic.Int64

	listingErrors atomic.Int64

	messagesReceived atomic.Int64
	messagesDeleted  atomic.Int64
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// Snapshot copies the counters into a status value.
func (c *Counters) Snapshot() driving.PipelineStatus {
	return driving.PipelineStatus{
		ObjectsListed:    c.objectsListed.Load(),
		ObjectsAdmitted:  c.objectsAdmitted.Load(),
		ObjectsCompleted: c.objectsCompleted.Load(),
		ObjectsFailed:    c.objectsFailed.Load(),
		ObjectsRetried:   c.objectsRetried.Load(),
		RecordsPublished: c.recordsPublished.Load(),
		RecordsAcked:     c.recordsAcked.Load(),
		RecordsMalformed: c.recordsMalformed.Load(),
		BatchesSent:      c.batchesSent.Load(),
		BatchesRetried:   c.batchesRetried.Load(),
		BatchesFailed:    c.batchesFailed.Load(),
		ListingErrors:    c.listingErrors.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDeleted:  c.messagesDeleted.Load(),
	}
}
