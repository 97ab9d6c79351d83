// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - ObjectStore: Lists and opens log objects (S3, local files)
//   - NotificationQueue: Receives object-created notifications (SQS)
//   - StateStore: Per-object read progress persistence
//   - Sink: Batch delivery to the configured output
//   - Parser: Decodes a raw line into an event
//   - ConfigLoader: Reads the agent configuration
//
// # Optional Interfaces
//
//   - Watcher: Implemented by object stores that can signal new data.
//     Stores without it are polled only.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or parser package
package driven
