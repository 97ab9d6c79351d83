// Package sqs implements the NotificationQueue port on top of Amazon SQS
// queues subscribed to S3 event notifications.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	sqssdk "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// Ensure Queue implements the interface.
var _ driven.NotificationQueue = (*Queue)(nil)

// maxMessages is the largest batch ReceiveMessage returns.
const maxMessages = 10

// authErrorCodes are the SQS error codes meaning the credentials are unusable.
var authErrorCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
}

// Client is the subset of the SQS API used by Queue.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqssdk.ReceiveMessageInput, optFns ...func(*sqssdk.Options)) (*sqssdk.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqssdk.DeleteMessageInput, optFns ...func(*sqssdk.Options)) (*sqssdk.DeleteMessageOutput, error)
}

// Options tunes how messages are received and removed.
type Options struct {
	// WaitTime is the long-poll duration. Zero uses domain.MaxQueueWaitTime.
	WaitTime time.Duration

	// VisibilityTimeout hides received messages from other consumers.
	// Zero keeps the queue setting.
	VisibilityTimeout time.Duration

	// Keep turns Delete into a no-op.
	Keep bool
}

// Queue receives S3 event notifications from one queue.
type Queue struct {
	client Client
	url    string
	opts   Options
}

// New creates a reader for the queue at queueURL.
func New(client Client, queueURL string, opts Options) *Queue {
	if opts.WaitTime <= 0 {
		opts.WaitTime = domain.MaxQueueWaitTime
	}
	return &Queue{client: client, url: queueURL, opts: opts}
}

// NewFromConfig creates a queue reader using the default AWS credential
// chain, with the region and endpoint of input.
func NewFromConfig(ctx context.Context, queueURL string, input domain.InputConfig) (*Queue, error) {
	var opts []func(*config.LoadOptions) error
	if input.Region != "" {
		opts = append(opts, config.WithRegion(input.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqssdk.NewFromConfig(awsCfg, func(o *sqssdk.Options) {
		if input.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(input.Endpoint)
		}
	})
	return New(client, queueURL, Options{
		WaitTime:          input.WaitTime.Std(),
		VisibilityTimeout: input.VisibilityTimeout.Std(),
		Keep:              input.KeepMessages,
	}), nil
}

// Name returns the queue URL.
func (q *Queue) Name() string {
	return q.url
}

// Receive long-polls for up to ten messages and extracts the created
// objects of each.
func (q *Queue) Receive(ctx context.Context) ([]domain.Notification, error) {
	input := &sqssdk.ReceiveMessageInput{
		QueueUrl:            awssdk.String(q.url),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(q.opts.WaitTime / time.Second),
	}
	if q.opts.VisibilityTimeout > 0 {
		input.VisibilityTimeout = int32(q.opts.VisibilityTimeout / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, classify(fmt.Errorf("receive messages %s: %w", q.url, err))
	}

	notifications := make([]domain.Notification, 0, len(out.Messages))
	for _, m := range out.Messages {
		notifications = append(notifications, q.notification(m))
	}
	return notifications, nil
}

func (q *Queue) notification(m types.Message) domain.Notification {
	n := domain.Notification{
		ID:      awssdk.ToString(m.MessageId),
		Receipt: awssdk.ToString(m.ReceiptHandle),
	}
	refs, err := ParseS3Event([]byte(awssdk.ToString(m.Body)))
	if err != nil {
		logger.Warn("Ignoring message %s of %s: %v", n.ID, q.url, err)
		return n
	}
	n.Objects = refs
	return n
}

// Delete removes n from the queue unless messages are kept.
func (q *Queue) Delete(ctx context.Context, n domain.Notification) error {
	if q.opts.Keep || n.Receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqssdk.DeleteMessageInput{
		QueueUrl:      awssdk.String(q.url),
		ReceiptHandle: awssdk.String(n.Receipt),
	})
	if err != nil {
		return classify(fmt.Errorf("delete message %s: %w", n.ID, err))
	}
	return nil
}

// classify marks credential failures as domain.ErrStorageAuth.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %w", domain.ErrStorageAuth, err)
	}
	return err
}

// s3Event is the notification body S3 publishes to SQS.
type s3Event struct {
	Records []struct {
		EventSource string    `json:"eventSource"`
		EventName   string    `json:"eventName"`
		EventTime   time.Time `json:"eventTime"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseS3Event returns the objects created according to an S3 event
// notification body. Other events are ignored. Keys arrive URL-encoded.
func ParseS3Event(body []byte) ([]domain.ObjectRef, error) {
	var ev s3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: s3 event: %w", domain.ErrInvalidInput, err)
	}

	var refs []domain.ObjectRef
	for _, r := range ev.Records {
		if r.EventSource != "aws:s3" || !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			logger.Warn("Ignoring S3 event for undecodable key %q: %v", r.S3.Object.Key, err)
			continue
		}
		if r.S3.Bucket.Name == "" || key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		refs = append(refs, domain.ObjectRef{
			Bucket:       r.S3.Bucket.Name,
			Key:          key,
			Size:         r.S3.Object.Size,
			LastModified: r.EventTime.UTC(),
			ETag:         strings.Trim(r.S3.Object.ETag, `"`),
		})
	}
	return refs, nil
}
