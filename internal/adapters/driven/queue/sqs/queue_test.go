package sqs

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	sqssdk "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

const queueURL = "https://sqs.eu-west-1.amazonaws.com/123456789012/alb-logs"

const createdEvent = `{"Records":[{
	"eventVersion":"2.1",
	"eventSource":"aws:s3",
	"awsRegion":"eu-west-1",
	"eventTime":"2018-07-07T09:35:10.990Z",
	"eventName":"ObjectCreated:Put",
	"s3":{
		"bucket":{"name":"mybucket","arn":"arn:aws:s3:::mybucket"},
		"object":{
			"key":"AWSLogs/123456789012/elasticloadbalancing/eu-west-1/2018/07/07/my+app_20180707T0935Z%3Aa.log.gz",
			"size":14313,
			"eTag":"0f0c79b67cf091c2228c16640d75ff3b",
			"sequencer":"005B40894EEA476179"
		}
	}
},{
	"eventSource":"aws:s3",
	"eventTime":"2018-07-07T09:36:00Z",
	"eventName":"ObjectRemoved:Delete",
	"s3":{"bucket":{"name":"mybucket"},"object":{"key":"gone.log"}}
},{
	"eventSource":"aws:s3",
	"eventTime":"2018-07-07T09:37:00Z",
	"eventName":"ObjectCreated:CompleteMultipartUpload",
	"s3":{"bucket":{"name":"other"},"object":{"key":"b.log","size":7,"eTag":"abc-2"}}
}]}`

const testEvent = `{"Service":"Amazon S3","Event":"s3:TestEvent","Time":"2018-07-07T09:30:00.000Z","Bucket":"mybucket"}`

// fakeClient serves scripted receive results and records deletions.
type fakeClient struct {
	messages   []types.Message
	receiveErr error
	deleteErr  error

	receives []*sqssdk.ReceiveMessageInput
	deletes  []*sqssdk.DeleteMessageInput
}

func (f *fakeClient) ReceiveMessage(_ context.Context, in *sqssdk.ReceiveMessageInput, _ ...func(*sqssdk.Options)) (*sqssdk.ReceiveMessageOutput, error) {
	f.receives = append(f.receives, in)
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	out := &sqssdk.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, in *sqssdk.DeleteMessageInput, _ ...func(*sqssdk.Options)) (*sqssdk.DeleteMessageOutput, error) {
	f.deletes = append(f.deletes, in)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &sqssdk.DeleteMessageOutput{}, nil
}

func message(id, body string) types.Message {
	return types.Message{
		MessageId:     awssdk.String(id),
		ReceiptHandle: awssdk.String("receipt-" + id),
		Body:          awssdk.String(body),
	}
}

func TestParseS3Event(t *testing.T) {
	refs, err := ParseS3Event([]byte(createdEvent))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, domain.ObjectRef{
		Bucket:       "mybucket",
		Key:          "AWSLogs/123456789012/elasticloadbalancing/eu-west-1/2018/07/07/my app_20180707T0935Z:a.log.gz",
		Size:         14313,
		LastModified: time.Date(2018, 7, 7, 9, 35, 10, 990_000_000, time.UTC),
		ETag:         "0f0c79b67cf091c2228c16640d75ff3b",
	}, refs[0])
	assert.Equal(t, "other", refs[1].Bucket)
	assert.Equal(t, "b.log", refs[1].Key)
	assert.Equal(t, "abc-2", refs[1].ETag)
}

func TestParseS3Event_NoObjects(t *testing.T) {
	refs, err := ParseS3Event([]byte(testEvent))
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = ParseS3Event([]byte(`{"Records":[{"eventSource":"aws:s3",`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQueue_Receive(t *testing.T) {
	client := &fakeClient{messages: []types.Message{
		message("m1", createdEvent),
		message("m2", testEvent),
		message("m3", "not json"),
	}}
	q := New(client, queueURL, Options{VisibilityTimeout: 5 * time.Minute})

	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "receipt-m1", got[0].Receipt)
	assert.Len(t, got[0].Objects, 2)
	assert.Empty(t, got[1].Objects, "test events announce nothing")
	assert.Empty(t, got[2].Objects, "unparseable bodies announce nothing")

	require.Len(t, client.receives, 1)
	in := client.receives[0]
	assert.Equal(t, queueURL, awssdk.ToString(in.QueueUrl))
	assert.Equal(t, int32(10), in.MaxNumberOfMessages)
	assert.Equal(t, int32(20), in.WaitTimeSeconds)
	assert.Equal(t, int32(300), in.VisibilityTimeout)

	got, err = q.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueue_ReceiveWaitTime(t *testing.T) {
	client := &fakeClient{}
	_, err := New(client, queueURL, Options{WaitTime: 3 * time.Second}).Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), client.receives[0].WaitTimeSeconds)
	assert.Zero(t, client.receives[0].VisibilityTimeout)
}

func TestQueue_ReceiveClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		auth bool
	}{
		{"bad token", &smithy.GenericAPIError{Code: "InvalidClientTokenId"}, true},
		{"expired", &smithy.GenericAPIError{Code: "ExpiredToken"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, true},
		{"throttled", &smithy.GenericAPIError{Code: "RequestThrottled"}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeClient{receiveErr: tt.err}, queueURL, Options{}).Receive(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.auth, domain.IsPermanent(err))
		})
	}
}

func TestQueue_Delete(t *testing.T) {
	client := &fakeClient{}
	q := New(client, queueURL, Options{})

	require.NoError(t, q.Delete(context.Background(), domain.Notification{ID: "m1", Receipt: "r1"}))
	require.Len(t, client.deletes, 1)
	assert.Equal(t, queueURL, awssdk.ToString(client.deletes[0].QueueUrl))
	assert.Equal(t, "r1", awssdk.ToString(client.deletes[0].ReceiptHandle))

	client.deleteErr = errors.New("boom")
	err := q.Delete(context.Background(), domain.Notification{ID: "m2", Receipt: "r2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m2")
}

func TestQueue_DeleteKeep(t *testing.T) {
	client := &fakeClient{}
	q := New(client, queueURL, Options{Keep: true})

	require.NoError(t, q.Delete(context.Background(), domain.Notification{ID: "m1", Receipt: "r1"}))
	assert.Empty(t, client.deletes)
	assert.Equal(t, queueURL, q.Name())
}
