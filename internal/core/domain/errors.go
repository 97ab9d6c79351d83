package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates the configuration failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedType indicates an unknown input, parser, sink or store type.
	ErrUnsupportedType = errors.New("unsupported type")

	// Process-level errors. These terminate the pipeline.

	// ErrStorageAuth indicates the object storage rejected the credentials.
	ErrStorageAuth = errors.New("object storage credentials rejected")

	// ErrStateStore indicates the state store could not persist or load progress.
	ErrStateStore = errors.New("state store unavailable")

	// Object and delivery errors. These are handled inside the pipeline.

	// ErrDeliveryFailed indicates a batch exhausted its delivery retries.
	ErrDeliveryFailed = errors.New("batch delivery failed")

	// ErrObjectFailed indicates an object exhausted its harvest retries.
	ErrObjectFailed = errors.New("object harvest failed")

	// ErrObjectDenied indicates the storage refused to serve one object,
	// for instance through its ACL or encryption key policy. Retrying does
	// not help, but other objects are unaffected.
	ErrObjectDenied = errors.New("object access denied")

	// ErrMalformedRecord indicates a record could not be decoded.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSkipRecord indicates a record is intentionally ignored, such as a
	// header or comment line.
	ErrSkipRecord = errors.New("record skipped")

	// ErrPipelineClosed indicates the publisher no longer accepts records.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// IsPermanent reports whether err must terminate the process.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrStorageAuth) || errors.Is(err, ErrStateStore)
}

// IsObjectPermanent reports whether err fails a single object without
// any further harvest attempt.
func IsObjectPermanent(err error) bool {
	return errors.Is(err, ErrObjectDenied)
}
