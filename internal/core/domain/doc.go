// Package domain defines the core business entities for s3logsbeat.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - ObjectRef: A discovered log object (S3 object or local file)
//   - ReadState: Durable per-object harvest progress
//   - Record: One decoded log line and the event parsed from it
//   - Batch: A bounded group of records delivered to a sink
//   - Config: Pipeline configuration with defaults
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
