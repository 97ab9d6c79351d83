package driven

import "github.com/sequra/s3logsbeat/internal/core/domain"

// Parser decodes one raw log line.
type Parser interface {
	// Parse returns the event for line. Errors wrap domain.ErrMalformedRecord.
	Parse(line []byte) (domain.Event, error)
}
