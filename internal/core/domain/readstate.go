package domain

import "time"

// ReadState is the durable harvest progress of one object.
// It is owned by the StateStore and mutated only after delivery is confirmed.
type ReadState struct {
	// Key is the object's StateKey.
	Key string

	// ETag is the ETag of the object version the offset refers to.
	ETag string

	// Size is the stored object size observed when harvesting started.
	Size int64

	// Offset is the decoded byte position up to which every record
	// has been acknowledged by the sink. Never decreases for one ETag.
	Offset int64

	// Completed is set once the whole object has been acknowledged.
	Completed bool

	// Failed marks an object that exceeded its retry budget.
	// Failed objects are skipped but remain distinct from completed ones.
	Failed bool

	// Attempts counts harvest attempts of the current object version.
	Attempts int

	// LastError holds the error that caused the last failed attempt.
	LastError string

	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time
}

// NewReadState returns the initial state for an object about to be harvested.
func NewReadState(ref ObjectRef) ReadState {
	return ReadState{
		Key:  ref.StateKey(),
		ETag: ref.ETag,
		Size: ref.Size,
	}
}

// Resume decides whether ref must be harvested given this persisted state,
// and from which decoded offset.
//
// A nil state means the object was never seen and is read from zero.
func (s *ReadState) Resume(ref ObjectRef) (offset int64, harvest bool) {
	if s == nil {
		return 0, true
	}

	// Replaced object: start over regardless of previous outcome.
	if s.ETag != "" && ref.ETag != "" && s.ETag != ref.ETag {
		return 0, true
	}

	if s.Failed {
		return 0, false
	}

	if ref.Size < s.Size {
		// Truncated in place.
		return 0, true
	}

	if s.Completed {
		if ref.Size > s.Size && ref.Compression() == CompressionNone {
			// Appended to; pick up where we stopped.
			return s.Offset, true
		}
		return 0, false
	}

	return s.Offset, true
}

// Advance moves the offset forward. It reports whether the state changed,
// which is false when offset is not beyond the current one.
func (s *ReadState) Advance(offset int64, now time.Time) bool {
	if offset <= s.Offset {
		return false
	}
	s.Offset = offset
	s.UpdatedAt = now
	return true
}
