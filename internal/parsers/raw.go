package parsers

import (
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Raw implements the interface.
var _ driven.Parser = (*Raw)(nil)

// Raw keeps each line verbatim under the "message" field.
type Raw struct{}

// NewRaw creates a raw parser.
func NewRaw() *Raw {
	return &Raw{}
}

// Parse returns an event without a timestamp.
func (r *Raw) Parse(line []byte) (domain.Event, error) {
	return newEvent(line, time.Time{}, map[string]any{"message": string(line)}), nil
}
