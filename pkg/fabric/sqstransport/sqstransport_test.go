package sqstransport

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type mockAPI struct {
	createQueueFunc  func(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	sendMessageFunc  func(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	receiveFunc      func(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	deleteFunc       func(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func (m *mockAPI) CreateQueue(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	return m.createQueueFunc(ctx, input, optFns...)
}
func (m *mockAPI) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return m.sendMessageFunc(ctx, input, optFns...)
}
func (m *mockAPI) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return m.receiveFunc(ctx, input, optFns...)
}
func (m *mockAPI) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return m.deleteFunc(ctx, input, optFns...)
}

func TestCreateQueueMarksFIFO(t *testing.T) {
	mock := &mockAPI{createQueueFunc: func(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
		if input.Attributes["FifoQueue"] != "true" {
			t.Error("expected FifoQueue attribute to be set")
		}
		if *input.QueueName != "tasks.fifo" {
			t.Errorf("QueueName = %s, want tasks.fifo", *input.QueueName)
		}
		return &sqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs/tasks.fifo")}, nil
	}}

	transport := NewWithAPI(mock)
	url, err := transport.CreateQueue(context.Background(), "tasks.fifo", true, nil)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if url != "https://sqs/tasks.fifo" {
		t.Errorf("url = %s", url)
	}
}

func TestSendMessageSetsFIFOFields(t *testing.T) {
	mock := &mockAPI{sendMessageFunc: func(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
		if aws.ToString(input.MessageGroupId) != "group-1" {
			t.Errorf("MessageGroupId = %v", input.MessageGroupId)
		}
		if aws.ToString(input.MessageDeduplicationId) != "dedup-1" {
			t.Errorf("MessageDeduplicationId = %v", input.MessageDeduplicationId)
		}
		return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
	}}

	transport := NewWithAPI(mock)
	id, err := transport.SendMessage(context.Background(), "https://sqs/q", "body", "group-1", "dedup-1")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("id = %s, want msg-1", id)
	}
}

func TestReceiveMessagesMapsFields(t *testing.T) {
	mock := &mockAPI{receiveFunc: func(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{
			{Body: aws.String("body-1"), ReceiptHandle: aws.String("handle-1"), MessageId: aws.String("id-1")},
		}}, nil
	}}

	transport := NewWithAPI(mock)
	messages, err := transport.ReceiveMessages(context.Background(), "https://sqs/q", 5, 10)
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Body != "body-1" || messages[0].ReceiptHandle != "handle-1" {
		t.Errorf("unexpected messages: %+v", messages)
	}
}

func TestDeleteMessagePropagatesError(t *testing.T) {
	mock := &mockAPI{deleteFunc: func(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
		return nil, errors.New("boom")
	}}

	transport := NewWithAPI(mock)
	if err := transport.DeleteMessage(context.Background(), "https://sqs/q", "handle-1"); err == nil {
		t.Error("expected error to propagate")
	}
}
