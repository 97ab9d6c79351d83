package parsers

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Option keys understood by the json and custom formats.
const (
	OptionTimestampField  = "timestamp_field"
	OptionTimestampFormat = "timestamp_format"
	OptionPattern         = "pattern"
	OptionIgnore          = "ignore"
	OptionKindPrefix      = "kind."
	OptionEmptyPrefix     = "empty."
)

// New returns the parser for format configured with options.
// An empty format selects raw.
func New(format domain.LogFormat, options map[string]string) (driven.Parser, error) {
	switch format {
	case "", domain.LogFormatRaw:
		return NewRaw(), nil
	case domain.LogFormatJSON:
		return newJSONFromOptions(options)
	case domain.LogFormatELB:
		return ELB, nil
	case domain.LogFormatALB:
		return ALB, nil
	case domain.LogFormatCloudFront:
		return CloudFront, nil
	case domain.LogFormatWAF:
		return WAF, nil
	case domain.LogFormatCustom:
		return newRegexFromOptions(options)
	default:
		return nil, fmt.Errorf("%w: log format %q", domain.ErrUnsupportedType, format)
	}
}

func newJSONFromOptions(options map[string]string) (*JSON, error) {
	field := options[OptionTimestampField]
	if field == "" {
		return NewJSON("", Kind{}), nil
	}
	format := options[OptionTimestampFormat]
	if format == "" {
		format = "timeISO8601"
	}
	k, err := ParseKind(format)
	if err != nil {
		return nil, fmt.Errorf("json %s: %w", OptionTimestampFormat, err)
	}
	if !k.IsTime() {
		return nil, fmt.Errorf("%w: json %s %q is not a time kind", domain.ErrInvalidConfig, OptionTimestampFormat, format)
	}
	return NewJSON(field, k), nil
}

func newRegexFromOptions(options map[string]string) (*Regex, error) {
	cfg := RegexConfig{
		Pattern:        options[OptionPattern],
		TimestampField: options[OptionTimestampField],
		Ignore:         options[OptionIgnore],
		Kinds:          make(map[string]string),
		EmptyValues:    make(map[string]string),
	}
	for k, v := range options {
		if name, ok := strings.CutPrefix(k, OptionKindPrefix); ok {
			cfg.Kinds[name] = v
		}
		if name, ok := strings.CutPrefix(k, OptionEmptyPrefix); ok {
			cfg.EmptyValues[name] = v
		}
	}
	return NewRegex(cfg)
}

// newEvent builds an event whose ID is the SHA-1 of the raw line.
func newEvent(line []byte, ts time.Time, fields map[string]any) domain.Event {
	sum := sha1.Sum(line)
	return domain.Event{
		ID:        hex.EncodeToString(sum[:]),
		Timestamp: ts,
		Fields:    fields,
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedRecord, fmt.Sprintf(format, args...))
}
