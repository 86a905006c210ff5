package fabric

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentmesh/awcp/pkg/awcperrors"
)

// QueueMessage is one message received from a QueueTransport.
type QueueMessage struct {
	Body          string
	ReceiptHandle string
	MessageID     string
}

// QueueTransport is the pluggable seam behind the fabric's SQS-like queue
// operations. pkg/fabric/sqstransport backs it with the real AWS SQS API;
// tests use an in-memory fake.
type QueueTransport interface {
	CreateQueue(ctx context.Context, name string, fifo bool, attributes map[string]string) (string, error)
	SendMessage(ctx context.Context, queueURL, body, groupID, dedupID string) (string, error)
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages, waitSeconds int32) ([]QueueMessage, error)
	DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error
}

// EnableQueue installs the queue transport used by CreateQueue/SendToQueue.
func (f *Fabric) EnableQueue(transport QueueTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueTransport = transport
}

// DisableQueue removes the queue transport.
func (f *Fabric) DisableQueue() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueTransport = nil
	f.queueNames = make(map[string]string)
	f.defaultQueueName = ""
}

// CreateQueue creates a queue through the transport and remembers its URL
// under name for later SendToQueue/ReceiveFromQueue calls. A FIFO queue name
// is suffixed with ".fifo" if not already present, matching SQS's naming
// requirement.
func (f *Fabric) CreateQueue(ctx context.Context, name string, fifo bool, attributes map[string]string) (string, error) {
	f.mu.RLock()
	transport := f.queueTransport
	f.mu.RUnlock()
	if transport == nil {
		return "", awcperrors.New(awcperrors.Unavailable, "queue transport not enabled")
	}

	if fifo && !strings.HasSuffix(name, ".fifo") {
		name += ".fifo"
	}

	url, err := transport.CreateQueue(ctx, name, fifo, attributes)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.Unavailable, "create queue "+name)
	}

	f.mu.Lock()
	f.queueNames[name] = url
	f.mu.Unlock()
	return url, nil
}

// SetDefaultQueue sets the queue used by SendToQueue when no queue name is
// given.
func (f *Fabric) SetDefaultQueue(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queueNames[name]; !ok {
		return awcperrors.New(awcperrors.NotFound, "unknown queue: "+name)
	}
	f.defaultQueueName = name
	return nil
}

// SendToQueue serializes a message and sends it to the named queue (or the
// default queue if queueName is empty). FIFO queues get a generated
// deduplication id and groupID (or "default" if unset).
func (f *Fabric) SendToQueue(ctx context.Context, messageType string, content interface{}, queueName, sender string, metadata map[string]interface{}, groupID string) Delivery {
	f.mu.RLock()
	transport := f.queueTransport
	if queueName == "" {
		queueName = f.defaultQueueName
	}
	url, ok := f.queueNames[queueName]
	format := f.serialization
	f.mu.RUnlock()

	if transport == nil {
		return Delivery{Status: StatusFailed, Error: "queue transport not enabled"}
	}
	if queueName == "" {
		return Delivery{Status: StatusFailed, Error: "no queue specified and no default queue set"}
	}
	if !ok {
		return Delivery{Status: StatusFailed, Error: "queue not found: " + queueName}
	}

	msg := Message{Sender: sender, Type: messageType, Content: content, Timestamp: nowTime(), Metadata: metadata}
	body, err := serializeMessage(msg, format)
	if err != nil {
		return Delivery{Status: StatusFailed, Error: err.Error()}
	}

	var dedupID string
	if strings.HasSuffix(queueName, ".fifo") {
		dedupID = uuid.NewString()
		if groupID == "" {
			groupID = "default"
		}
	}

	messageID, err := transport.SendMessage(ctx, url, body, groupID, dedupID)
	if err != nil {
		return Delivery{Status: StatusFailed, Error: fmt.Sprintf("failed to send message to sqs: %v", err)}
	}
	return Delivery{Status: StatusSent, Extra: map[string]interface{}{"message_id": messageID, "queue": queueName}}
}

// ReceiveFromQueue receives and deserializes up to maxMessages from the
// named queue, returning the messages alongside their receipt handles for a
// later DeleteQueueMessage call.
func (f *Fabric) ReceiveFromQueue(ctx context.Context, queueName string, maxMessages, waitSeconds int32) ([]Message, []string, error) {
	f.mu.RLock()
	transport := f.queueTransport
	url, ok := f.queueNames[queueName]
	format := f.serialization
	f.mu.RUnlock()

	if transport == nil {
		return nil, nil, awcperrors.New(awcperrors.Unavailable, "queue transport not enabled")
	}
	if !ok {
		return nil, nil, awcperrors.New(awcperrors.NotFound, "unknown queue: "+queueName)
	}

	raw, err := transport.ReceiveMessages(ctx, url, clamp(maxMessages, 1, 10), clamp(waitSeconds, 0, 20))
	if err != nil {
		return nil, nil, awcperrors.Wrap(err, awcperrors.Unavailable, "receive messages from "+queueName)
	}

	messages := make([]Message, 0, len(raw))
	receipts := make([]string, 0, len(raw))
	for _, m := range raw {
		msg, err := deserializeMessage(m.Body, format)
		if err != nil {
			f.logger.Warnf("failed to parse queue message: %v", err)
			continue
		}
		messages = append(messages, msg)
		receipts = append(receipts, m.ReceiptHandle)
	}
	return messages, receipts, nil
}

// DeleteQueueMessage acknowledges a message, removing it from the named
// queue.
func (f *Fabric) DeleteQueueMessage(ctx context.Context, queueName, receiptHandle string) error {
	f.mu.RLock()
	transport := f.queueTransport
	url, ok := f.queueNames[queueName]
	f.mu.RUnlock()

	if transport == nil {
		return awcperrors.New(awcperrors.Unavailable, "queue transport not enabled")
	}
	if !ok {
		return awcperrors.New(awcperrors.NotFound, "unknown queue: "+queueName)
	}
	if err := transport.DeleteMessage(ctx, url, receiptHandle); err != nil {
		return awcperrors.Wrap(err, awcperrors.Unavailable, "delete message from "+queueName)
	}
	return nil
}

func clamp(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// EventPattern is an EventBridge-style match rule: an event matches when its
// source and detail-type are both present in the respective lists.
type EventPattern struct {
	Source     []string
	DetailType []string
}

// EventBusTransport is the pluggable seam behind the fabric's EventBridge-
// like publish/subscribe operations. pkg/fabric/eventbridge backs it with
// the real AWS EventBridge API; tests use an in-memory fake.
type EventBusTransport interface {
	PutEvent(ctx context.Context, busName, source, detailType, detail string) (string, error)
	PutRule(ctx context.Context, busName, ruleName string, pattern *EventPattern, schedule string) error
	PutTarget(ctx context.Context, busName, ruleName, targetID, targetARN, inputPath string) error
}

// EnableEventBridge installs the event bus transport and the bus/source used
// by PublishEvent and CreateEventRule.
func (f *Fabric) EnableEventBridge(transport EventBusTransport, busName, eventSource string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventBus = transport
	if busName != "" {
		f.eventBusName = busName
	}
	if eventSource != "" {
		f.eventSource = eventSource
	}
}

// DisableEventBridge removes the event bus transport.
func (f *Fabric) DisableEventBridge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventBus = nil
}

// PublishEvent publishes detail (JSON-encoded) under "Agent.<eventType>" as
// the EventBridge detail-type, unless detailType overrides it.
func (f *Fabric) PublishEvent(ctx context.Context, eventType string, detail interface{}, detailType string) (string, error) {
	f.mu.RLock()
	transport := f.eventBus
	busName := f.eventBusName
	source := f.eventSource
	f.mu.RUnlock()

	if transport == nil {
		return "", awcperrors.New(awcperrors.Unavailable, "eventbridge not enabled")
	}
	if detailType == "" {
		detailType = "Agent." + eventType
	}

	body, err := jsonMarshal(detail)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.InvalidArgument, "marshal event detail")
	}

	eventID, err := transport.PutEvent(ctx, busName, source, detailType, body)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.Unavailable, "publish event to eventbridge")
	}
	return eventID, nil
}

// CreateEventRule creates a rule matching pattern or schedule (at least one
// must be non-nil/non-empty).
func (f *Fabric) CreateEventRule(ctx context.Context, ruleName string, pattern *EventPattern, schedule string) error {
	f.mu.RLock()
	transport := f.eventBus
	busName := f.eventBusName
	f.mu.RUnlock()

	if transport == nil {
		return awcperrors.New(awcperrors.Unavailable, "eventbridge not enabled")
	}
	if pattern == nil && schedule == "" {
		return awcperrors.New(awcperrors.InvalidArgument, "either event pattern or schedule expression must be provided")
	}
	if err := transport.PutRule(ctx, busName, ruleName, pattern, schedule); err != nil {
		return awcperrors.Wrap(err, awcperrors.Unavailable, "create eventbridge rule "+ruleName)
	}
	return nil
}

// AddEventTarget attaches a target to ruleName. targetID is generated if
// empty.
func (f *Fabric) AddEventTarget(ctx context.Context, ruleName, targetARN, targetID, inputPath string) error {
	f.mu.RLock()
	transport := f.eventBus
	busName := f.eventBusName
	f.mu.RUnlock()

	if transport == nil {
		return awcperrors.New(awcperrors.Unavailable, "eventbridge not enabled")
	}
	if targetID == "" {
		targetID = "target-" + uuid.NewString()
	}
	if err := transport.PutTarget(ctx, busName, ruleName, targetID, targetARN, inputPath); err != nil {
		return awcperrors.Wrap(err, awcperrors.Unavailable, "add target to eventbridge rule "+ruleName)
	}
	return nil
}

// EventPatternForMessageType builds the pattern matching events published
// for messageType by PublishEvent.
func (f *Fabric) EventPatternForMessageType(messageType string) EventPattern {
	f.mu.RLock()
	source := f.eventSource
	f.mu.RUnlock()
	return EventPattern{Source: []string{source}, DetailType: []string{"Agent." + messageType}}
}
