package parsers

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure JSON implements the interface.
var _ driven.Parser = (*JSON)(nil)

// JSON decodes one JSON object per line.
// Integral numbers become int64, other numbers float64.
type JSON struct {
	timestampField string
	timestampKind  Kind
}

// NewJSON creates a JSON parser. When timestampField is set the field is
// converted with kind, removed from the fields and used as event time.
func NewJSON(timestampField string, kind Kind) *JSON {
	return &JSON{
		timestampField: timestampField,
		timestampKind:  kind,
	}
}

// Parse decodes line.
func (j *JSON) Parse(line []byte) (domain.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return domain.Event{}, malformed("decode json: %v", err)
	}
	if fields == nil {
		return domain.Event{}, malformed("json line is not an object")
	}
	transformNumbers(fields)

	var ts time.Time
	if j.timestampField != "" {
		raw, ok := fields[j.timestampField]
		if !ok {
			return domain.Event{}, malformed("timestamp field %s not found", j.timestampField)
		}
		v, err := j.timestampKind.Convert(raw)
		if err != nil {
			return domain.Event{}, malformed("timestamp field %s: %v", j.timestampField, err)
		}
		t, ok := v.(time.Time)
		if !ok {
			return domain.Event{}, malformed("timestamp field %s is not a time", j.timestampField)
		}
		ts = t
		delete(fields, j.timestampField)
	}
	return newEvent(line, ts, fields), nil
}

func transformNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = transformValue(v)
	}
}

func transformValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		transformNumbers(t)
		return t
	case []any:
		for i := range t {
			t[i] = transformValue(t[i])
		}
		return t
	default:
		return v
	}
}
