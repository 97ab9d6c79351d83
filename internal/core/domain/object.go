package domain

import (
	"fmt"
	"strings"
	"time"
)

// Compression identifies the content encoding of an object.
type Compression int

const (
	// CompressionNone indicates a plain line-delimited object.
	CompressionNone Compression = iota

	// CompressionGzip indicates a gzip stream (".gz").
	CompressionGzip

	// CompressionZstd indicates a zstd stream (".zst", ".zstd").
	CompressionZstd
)

// String returns the encoding name.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ObjectRef identifies one source object. It is immutable once discovered.
type ObjectRef struct {
	// Bucket is the S3 bucket. Empty for local files.
	Bucket string

	// Key is the object key, or the file path for local files.
	Key string

	// Size is the stored (possibly compressed) size in bytes.
	Size int64

	// LastModified is the object's modification time.
	LastModified time.Time

	// ETag is the content checksum if the store provides one.
	ETag string
}

// StateKey returns the key under which the object's ReadState is stored.
func (o ObjectRef) StateKey() string {
	if o.Bucket == "" {
		return o.Key
	}
	return o.Bucket + "/" + o.Key
}

// Compression derives the content encoding from the key suffix.
func (o ObjectRef) Compression() Compression {
	key := strings.ToLower(o.Key)
	switch {
	case strings.HasSuffix(key, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(key, ".zst"), strings.HasSuffix(key, ".zstd"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// String converts the reference into a URI-like string for logs.
func (o ObjectRef) String() string {
	if o.Bucket == "" {
		return fmt.Sprintf("file://%s", o.Key)
	}
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}
