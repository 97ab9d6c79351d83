package domain

import (
	"context"
	"time"
)

// Event is the structured form of a record produced by a parser.
type Event struct {
	// ID is a deterministic identifier of the raw line, used by sinks
	// and downstream stores to deduplicate redelivered records.
	ID string

	// Timestamp is the event time extracted by the parser, or the
	// decode time when the format carries none.
	Timestamp time.Time

	// Fields holds the parsed fields.
	Fields map[string]any
}

// Record is one decoded log line.
type Record struct {
	// Object is the source object.
	Object ObjectRef

	// Offset is the decoded byte position immediately after this record.
	// Resuming a read at Offset yields the next record.
	Offset int64

	// Payload is the raw line without its terminator.
	Payload []byte

	// DecodedAt is when the record was read.
	DecodedAt time.Time

	// Event is the parsed event. Set by the harvester before publishing.
	Event Event

	// ack is credited by the publisher once the record is delivered.
	ack Acknowledger
}

// Acknowledger receives delivery outcomes for the records of one harvest attempt.
type Acknowledger interface {
	// Delivered is called once per batch with the number of records of this
	// attempt contained in it and the highest offset among them.
	// An error means the progress could not be persisted.
	Delivered(ctx context.Context, n int, offset int64) error

	// Failed is called when a batch containing records of this attempt
	// exhausted its retries.
	Failed(err error)
}

// WithAck returns a copy of the record bound to an acknowledger.
func (r Record) WithAck(a Acknowledger) Record {
	r.ack = a
	return r
}

// Ack returns the acknowledger bound to the record, if any.
func (r Record) Ack() Acknowledger {
	return r.ack
}

// Size approximates the record's contribution to a batch in bytes.
func (r Record) Size() int {
	return len(r.Payload)
}
