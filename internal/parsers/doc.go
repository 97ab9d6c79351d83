// Package parsers provides implementations of the Parser interface for the
// supported log formats. Each parser turns one raw line into an event with
// a deterministic ID and, when the format carries one, an event timestamp.
//
// Parsers are selected per input with New.
package parsers
