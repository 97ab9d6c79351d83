// Package s3 implements the ObjectStore port on top of Amazon S3 and
// S3-compatible services.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	s3sdk "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.ObjectStore = (*Store)(nil)

const uriScheme = "s3://"

// authErrorCodes are the S3 error codes meaning the credentials are unusable.
var authErrorCodes = map[string]bool{
	"ExpiredToken":          true,
	"InvalidAccessKeyId":    true,
	"InvalidToken":          true,
	"SignatureDoesNotMatch": true,
}

// deniedErrorCodes are the S3 error codes refusing a request the
// credentials were otherwise valid for.
var deniedErrorCodes = map[string]bool{
	"AccessDenied":      true,
	"AllAccessDisabled": true,
}

// Client is the subset of the S3 API used by Store.
type Client interface {
	s3sdk.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3sdk.GetObjectInput, optFns ...func(*s3sdk.Options)) (*s3sdk.GetObjectOutput, error)
}

// Store lists and reads the objects of one bucket.
type Store struct {
	client Client
	bucket string
}

// New creates a store over bucket.
func New(client Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// NewFromConfig creates a store using the default AWS credential chain,
// with the region, endpoint and addressing style of input.
func NewFromConfig(ctx context.Context, bucket string, input domain.InputConfig) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if input.Region != "" {
		opts = append(opts, config.WithRegion(input.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3sdk.NewFromConfig(awsCfg, func(o *s3sdk.Options) {
		if input.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(input.Endpoint)
		}
		o.UsePathStyle = input.ForcePathStyle
	})
	return New(client, bucket), nil
}

// ParseURI splits an s3://bucket/prefix URI.
func ParseURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3:// URI", domain.ErrInvalidConfig, uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", domain.ErrInvalidConfig, uri)
	}
	return bucket, prefix, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// List pages through the objects under prefix. Folder markers are skipped.
func (s *Store) List(ctx context.Context, prefix string, fn func(domain.ObjectRef) error) error {
	input := &s3sdk.ListObjectsV2Input{Bucket: awssdk.String(s.bucket)}
	if prefix != "" {
		input.Prefix = awssdk.String(prefix)
	}

	p := s3sdk.NewListObjectsV2Paginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classify(fmt.Errorf("list objects s3://%s/%s: %w", s.bucket, prefix, err), domain.ErrStorageAuth)
		}
		for _, obj := range page.Contents {
			key := awssdk.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			ref := domain.ObjectRef{
				Bucket:       s.bucket,
				Key:          key,
				Size:         awssdk.ToInt64(obj.Size),
				LastModified: awssdk.ToTime(obj.LastModified).UTC(),
				ETag:         strings.Trim(awssdk.ToString(obj.ETag), `"`),
			}
			if err := fn(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// Open fetches ref from offset. The read is pinned to the listed ETag so an
// object replaced mid-harvest fails instead of mixing contents. The bucket
// of ref wins over the store's, so one store serves notifications naming
// any bucket.
func (s *Store) Open(ctx context.Context, ref domain.ObjectRef, offset int64) (io.ReadCloser, error) {
	if offset > 0 && ref.Size > 0 && offset >= ref.Size {
		return io.NopCloser(strings.NewReader("")), nil
	}

	bucket := ref.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	input := &s3sdk.GetObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(ref.Key),
	}
	if ref.ETag != "" {
		input.IfMatch = awssdk.String(`"` + ref.ETag + `"`)
	}
	if offset > 0 {
		input.Range = awssdk.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, classify(fmt.Errorf("get object %s: %w", ref, err), domain.ErrObjectDenied)
	}
	return out.Body, nil
}

// classify marks credential failures as domain.ErrStorageAuth and missing
// objects as domain.ErrNotFound. A denied request is marked with denied:
// listing a bucket it may not read stops the process, while one
// unreadable object only fails that object.
func classify(err, denied error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case authErrorCodes[apiErr.ErrorCode()]:
		return fmt.Errorf("%w: %w", domain.ErrStorageAuth, err)
	case deniedErrorCodes[apiErr.ErrorCode()]:
		return fmt.Errorf("%w: %w", denied, err)
	case apiErr.ErrorCode() == "NoSuchKey":
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	default:
		return err
	}
}
