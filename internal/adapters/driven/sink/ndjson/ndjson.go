// Package ndjson encodes records as newline-delimited JSON documents, the
// wire format shared by every sink.
package ndjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

// Reserved document keys.
const (
	TimestampKey = "@timestamp"
	IDKey        = "_id"
)

// ContentType is the media type of an encoded batch.
const ContentType = "application/x-ndjson"

// Marshal encodes one record as a JSON object without a trailing newline.
// Event fields are merged with the timestamp and ID.
func Marshal(rec domain.Record) ([]byte, error) {
	doc := make(map[string]any, len(rec.Event.Fields)+2)
	for k, v := range rec.Event.Fields {
		doc[k] = v
	}
	ts := rec.Event.Timestamp
	if ts.IsZero() {
		ts = rec.DecodedAt
	}
	doc[TimestampKey] = ts.UTC().Format(time.RFC3339Nano)
	if rec.Event.ID != "" {
		doc[IDKey] = rec.Event.ID
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode record of %s at offset %d: %w", rec.Object, rec.Offset, err)
	}
	return data, nil
}

// MarshalBatch encodes every record of the batch, one per element.
func MarshalBatch(b *domain.Batch) ([][]byte, error) {
	lines := make([][]byte, 0, b.Len())
	for _, rec := range b.Records {
		line, err := Marshal(rec)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Encode writes the batch as NDJSON into buf.
func Encode(buf *bytes.Buffer, b *domain.Batch) error {
	lines, err := MarshalBatch(b)
	if err != nil {
		return err
	}
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return nil
}
