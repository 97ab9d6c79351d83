package parsers

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Regex implements the interface.
var _ driven.Parser = (*Regex)(nil)

// RegexConfig configures a Regex parser.
type RegexConfig struct {
	// Pattern is matched against each line. Named groups become fields.
	Pattern string

	// TimestampField names the group holding the event time. Its kind must
	// be a time kind. Empty leaves the event without a timestamp.
	TimestampField string

	// Kinds maps group names to kind names. Unlisted groups stay strings.
	Kinds map[string]string

	// EmptyValues maps group names to the value meaning "absent".
	EmptyValues map[string]string

	// Ignore skips lines matching this pattern.
	Ignore string
}

// Regex parses lines with a regular expression with named groups.
type Regex struct {
	re             *regexp.Regexp
	ignore         *regexp.Regexp
	names          []string
	timestampField string
	kinds          map[string]Kind
	emptyValues    map[string]string
}

// NewRegex compiles cfg.
func NewRegex(cfg RegexConfig) (*Regex, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("%w: regex pattern is required", domain.ErrInvalidConfig)
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern: %v", domain.ErrInvalidConfig, err)
	}
	r := &Regex{
		re:             re,
		names:          re.SubexpNames(),
		timestampField: cfg.TimestampField,
		kinds:          make(map[string]Kind, len(cfg.Kinds)),
		emptyValues:    make(map[string]string, len(cfg.EmptyValues)),
	}
	if cfg.Ignore != "" {
		if r.ignore, err = regexp.Compile(cfg.Ignore); err != nil {
			return nil, fmt.Errorf("%w: ignore: %v", domain.ErrInvalidConfig, err)
		}
	}
	for name, kind := range cfg.Kinds {
		k, err := ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		r.kinds[name] = k
	}
	for name, v := range cfg.EmptyValues {
		r.emptyValues[name] = v
	}
	if r.timestampField != "" {
		if re.SubexpIndex(r.timestampField) < 0 {
			return nil, fmt.Errorf("%w: timestamp field %s is not a named group", domain.ErrInvalidConfig, r.timestampField)
		}
		if k, ok := r.kinds[r.timestampField]; !ok || !k.IsTime() {
			return nil, fmt.Errorf("%w: timestamp field %s needs a time kind", domain.ErrInvalidConfig, r.timestampField)
		}
	}
	return r, nil
}

func mustRegex(cfg RegexConfig) *Regex {
	r, err := NewRegex(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse matches line. Lines matching the ignore pattern return
// domain.ErrSkipRecord.
func (r *Regex) Parse(line []byte) (domain.Event, error) {
	s := string(line)
	if r.ignore != nil && r.ignore.MatchString(s) {
		return domain.Event{}, domain.ErrSkipRecord
	}
	match := r.re.FindStringSubmatch(s)
	if match == nil {
		return domain.Event{}, malformed("line does not match expected format")
	}

	fields := make(map[string]any)
	for i, name := range r.names {
		// Skip the whole match, unnamed groups and empty captures.
		if i == 0 || name == "" || match[i] == "" {
			continue
		}
		if empty, ok := r.emptyValues[name]; ok && empty == match[i] {
			continue
		}
		k, ok := r.kinds[name]
		if !ok {
			fields[name] = match[i]
			continue
		}
		v, err := k.Convert(match[i])
		if err != nil {
			return domain.Event{}, malformed("field %s as %s: %v", name, k, err)
		}
		fields[name] = v
	}

	var ts time.Time
	if r.timestampField != "" {
		t, ok := fields[r.timestampField].(time.Time)
		if !ok {
			return domain.Event{}, malformed("timestamp field %s missing", r.timestampField)
		}
		ts = t
		delete(fields, r.timestampField)
	}
	return newEvent(line, ts, fields), nil
}
