// Package sqstransport backs pkg/fabric.QueueTransport with the real AWS
// SQS API.
package sqstransport

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/fabric"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
)

// API is the subset of the AWS SQS client used here, narrowed for testing.
type API interface {
	CreateQueue(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Transport implements fabric.QueueTransport over a real or fake SQS API,
// guarding every call with a circuit breaker so a persistent SQS outage
// degrades to an error return instead of hanging the fabric's send path.
type Transport struct {
	client  API
	cb      *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New loads the default AWS config for the given region and wraps an SQS
// client.
func New(ctx context.Context, region string) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newTransport(sqs.NewFromConfig(cfg)), nil
}

// NewWithAPI wraps an already-constructed SQS API, for tests and for
// pointing at LocalStack.
func NewWithAPI(client API) *Transport {
	return newTransport(client)
}

func newTransport(client API) *Transport {
	return &Transport{
		client:  client,
		cb:      resilience.NewCircuitBreaker("sqs", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter: resilience.NewRateLimiter("sqs", resilience.RateLimiterConfig{Limit: 3000, Period: resilience.DefaultPeriod}),
	}
}

var _ fabric.QueueTransport = (*Transport)(nil)

// CreateQueue creates an SQS queue, marking it FIFO when requested.
func (t *Transport) CreateQueue(ctx context.Context, name string, fifo bool, attributes map[string]string) (string, error) {
	awsAttrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		awsAttrs[k] = v
	}
	if fifo {
		awsAttrs["FifoQueue"] = "true"
	}

	result, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.CreateQueue(ctx, &sqs.CreateQueueInput{
			QueueName:  aws.String(name),
			Attributes: awsAttrs,
		})
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.(*sqs.CreateQueueOutput).QueueUrl), nil
}

// SendMessage sends body to queueURL, attaching FIFO dedup/group ids when
// present.
func (t *Transport) SendMessage(ctx context.Context, queueURL, body, groupID, dedupID string) (string, error) {
	if !t.limiter.Allow() {
		return "", awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for sqs")
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}
	if dedupID != "" {
		input.MessageDeduplicationId = aws.String(dedupID)
	}
	if groupID != "" {
		input.MessageGroupId = aws.String(groupID)
	}

	result, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.SendMessage(ctx, input)
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.(*sqs.SendMessageOutput).MessageId), nil
}

// ReceiveMessages long-polls queueURL for up to maxMessages.
func (t *Transport) ReceiveMessages(ctx context.Context, queueURL string, maxMessages, waitSeconds int32) ([]fabric.QueueMessage, error) {
	if !t.limiter.Allow() {
		return nil, awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for sqs")
	}

	result, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     waitSeconds,
		})
	})
	if err != nil {
		return nil, err
	}
	out := result.(*sqs.ReceiveMessageOutput)

	messages := make([]fabric.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, fabric.QueueMessage{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			MessageID:     aws.ToString(m.MessageId),
		})
	}
	return messages, nil
}

// DeleteMessage acknowledges a message, removing it from queueURL.
func (t *Transport) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := t.cb.Execute(ctx, func() (interface{}, error) {
		return t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
	})
	return err
}
