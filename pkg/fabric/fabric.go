// Package fabric implements the agent communication fabric: synchronous and
// queued message delivery between agents, message-type and ownership-scoped
// routing, pluggable queue and event-bus transports, and a secure envelope
// for cross-owner traffic.
package fabric

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
)

// DeliveryStatus reports the outcome of a send.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusQueued    DeliveryStatus = "queued"
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusFailed    DeliveryStatus = "failed"
	StatusPartial   DeliveryStatus = "partial"
	StatusCompleted DeliveryStatus = "completed"
)

// Message is the envelope carried between agents.
type Message struct {
	Sender    string                 `json:"sender"`
	Type      string                 `json:"message_type"`
	Content   interface{}            `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// Delivery is the result of a send, route, or broadcast leg.
type Delivery struct {
	Status   DeliveryStatus
	Response interface{}
	Error    string
	Extra    map[string]interface{}
}

// BroadcastResult aggregates the per-recipient outcomes of a Broadcast call.
type BroadcastResult struct {
	Status     DeliveryStatus
	Total      int
	Successful int
	Failed     int
	Pending    int
	Details    []Delivery
}

// Handler processes a message of a registered type and optionally returns a
// response.
type Handler func(ctx context.Context, sender string, content interface{}) (interface{}, error)

// AsyncHandler processes a queued message without returning a response.
type AsyncHandler func(ctx context.Context, sender string, content interface{}, metadata map[string]interface{})

// Receiver is any destination capable of accepting a delivered message. A
// Fabric is itself a Receiver, which is what lets one Fabric send directly
// to another in tests and in-process wiring.
type Receiver interface {
	ReceiveMessage(ctx context.Context, sender, messageType string, content interface{}) (interface{}, error)
}

// SerializationFormat names a supported wire encoding for Serialize/Deserialize.
type SerializationFormat string

const (
	FormatJSON       SerializationFormat = "json"
	FormatBase64JSON SerializationFormat = "base64_json"
)

type pendingMessage struct {
	recipient interface{}
	msgType   string
	content   interface{}
	sender    string
	metadata  map[string]interface{}
}

// Fabric routes messages between agents, synchronously or through an
// internal async queue, and enforces ownership-scoped cross-tenant policy.
type Fabric struct {
	mu sync.RWMutex

	handlers      map[string]Handler
	routes        map[string]interface{}
	defaultRoute  interface{}
	agents        map[string]Receiver
	serialization SerializationFormat

	ownerID           string
	ownershipRoutes   map[string]interface{}
	crossOwnerPolicy  string

	security *securityState

	queueTransport   QueueTransport
	queueNames       map[string]string // name -> queue URL
	defaultQueueName string

	eventBus     EventBusTransport
	eventBusName string
	eventSource  string

	asyncHandlers map[string]AsyncHandler
	asyncQueue    chan pendingMessage
	asyncMu       sync.Mutex
	asyncRunning  bool
	asyncStop     chan struct{}
	asyncStopped  chan struct{}

	logger        observability.Logger
	metricsClient observability.MetricsClient
}

// Option configures a Fabric at construction time.
type Option func(*Fabric)

// WithLogger overrides the default no-op logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Fabric) { f.logger = logger }
}

// WithMetricsClient overrides the default no-op metrics client.
func WithMetricsClient(client observability.MetricsClient) Option {
	return func(f *Fabric) { f.metricsClient = client }
}

// WithQueueCapacity overrides the default async queue buffer size.
func WithQueueCapacity(capacity int) Option {
	return func(f *Fabric) { f.asyncQueue = make(chan pendingMessage, capacity) }
}

// New creates a Fabric.
func New(opts ...Option) *Fabric {
	f := &Fabric{
		handlers:         make(map[string]Handler),
		routes:           make(map[string]interface{}),
		agents:           make(map[string]Receiver),
		serialization:    FormatJSON,
		ownershipRoutes:  make(map[string]interface{}),
		crossOwnerPolicy: "deny",
		queueNames:       make(map[string]string),
		eventBusName:     "default",
		eventSource:      "com.agentmesh.awcp",
		asyncHandlers:    make(map[string]AsyncHandler),
		asyncQueue:       make(chan pendingMessage, 256),
		logger:           observability.NewNoopLogger(),
		metricsClient:    observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterHandler registers fn to process every message of messageType
// delivered synchronously to this Fabric.
func (f *Fabric) RegisterHandler(messageType string, fn Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[messageType] = fn
}

// RegisterAgent makes agentID resolvable as a Send/Route recipient.
func (f *Fabric) RegisterAgent(agentID string, receiver Receiver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[agentID] = receiver
}

// ReceiveMessage implements Receiver by dispatching to the handler
// registered for messageType, if any.
func (f *Fabric) ReceiveMessage(ctx context.Context, sender, messageType string, content interface{}) (interface{}, error) {
	f.mu.RLock()
	handler, ok := f.handlers[messageType]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return handler(ctx, sender, content)
}

// Send delivers a message to recipient, which must be a Receiver (direct
// in-process delivery) or a string agent id previously registered with
// RegisterAgent. An unregistered agent id is queued onto the configured
// queue transport if one is set, and otherwise reported pending, matching
// a registry-less deployment.
func (f *Fabric) Send(ctx context.Context, recipient interface{}, messageType string, content interface{}, sender string, metadata map[string]interface{}) Delivery {
	ctx, span := observability.TraceMessage(ctx, messageType)
	defer span.End()

	if recipient == nil {
		return Delivery{Status: StatusFailed, Error: "no recipient specified"}
	}

	switch r := recipient.(type) {
	case Receiver:
		return f.deliver(ctx, r, sender, messageType, content)
	case string:
		f.mu.RLock()
		receiver, ok := f.agents[r]
		f.mu.RUnlock()
		if ok {
			return f.deliver(ctx, receiver, sender, messageType, content)
		}
		if f.queueTransport != nil {
			return f.SendToQueue(ctx, messageType, content, "", sender, metadata, "")
		}
		return Delivery{Status: StatusPending, Extra: map[string]interface{}{"message": "message queued for delivery to agent id: " + r}}
	default:
		return Delivery{Status: StatusFailed, Error: "invalid recipient type"}
	}
}

func (f *Fabric) deliver(ctx context.Context, r Receiver, sender, messageType string, content interface{}) Delivery {
	response, err := r.ReceiveMessage(ctx, sender, messageType, content)
	if err != nil {
		f.metricsClient.RecordCounter("fabric_delivery_failed_total", 1, map[string]string{"message_type": messageType})
		return Delivery{Status: StatusFailed, Error: err.Error()}
	}
	f.metricsClient.RecordCounter("fabric_delivery_total", 1, map[string]string{"message_type": messageType})
	return Delivery{Status: StatusDelivered, Response: response}
}

// Broadcast sends a message to every recipient, tallying the per-recipient
// outcomes.
func (f *Fabric) Broadcast(ctx context.Context, recipients []interface{}, messageType string, content interface{}, sender string, metadata map[string]interface{}) BroadcastResult {
	if len(recipients) == 0 {
		return BroadcastResult{Status: StatusFailed}
	}

	result := BroadcastResult{Status: StatusCompleted, Total: len(recipients)}
	for _, recipient := range recipients {
		d := f.Send(ctx, recipient, messageType, content, sender, metadata)
		result.Details = append(result.Details, d)
		switch d.Status {
		case StatusDelivered:
			result.Successful++
		case StatusPending, StatusQueued:
			result.Pending++
		default:
			result.Failed++
		}
	}

	switch {
	case result.Failed == result.Total:
		result.Status = StatusFailed
	case result.Failed > 0 || result.Pending > 0:
		result.Status = StatusPartial
	}
	return result
}

// AddRoute registers destination as the target for every message of
// messageType sent through Route.
func (f *Fabric) AddRoute(messageType string, destination interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[messageType] = destination
}

// SetDefaultRoute sets the fallback destination for Route when no specific
// route matches.
func (f *Fabric) SetDefaultRoute(destination interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultRoute = destination
}

// Route sends content to the destination registered for messageType, or the
// default route, or fails if neither is configured.
func (f *Fabric) Route(ctx context.Context, messageType string, content interface{}, sender string, metadata map[string]interface{}) Delivery {
	f.mu.RLock()
	destination, ok := f.routes[messageType]
	if !ok {
		destination = f.defaultRoute
		ok = destination != nil
	}
	f.mu.RUnlock()

	if !ok {
		return Delivery{Status: StatusFailed, Error: "no route found for message type: " + messageType}
	}
	return f.Send(ctx, destination, messageType, content, sender, metadata)
}

// SetSerializationFormat sets the wire encoding used by Serialize/Deserialize.
func (f *Fabric) SetSerializationFormat(format SerializationFormat) error {
	if format != FormatJSON && format != FormatBase64JSON {
		return awcperrors.New(awcperrors.InvalidArgument, "unsupported serialization format: "+string(format))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serialization = format
	return nil
}

// Serialize encodes msg in the fabric's configured format.
func (f *Fabric) Serialize(msg Message) (string, error) {
	f.mu.RLock()
	format := f.serialization
	f.mu.RUnlock()
	return serializeMessage(msg, format)
}

// Deserialize decodes a wire-format string back into a Message.
func (f *Fabric) Deserialize(data string) (Message, error) {
	f.mu.RLock()
	format := f.serialization
	f.mu.RUnlock()
	return deserializeMessage(data, format)
}

func serializeMessage(msg Message, format SerializationFormat) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", awcperrors.Wrap(err, awcperrors.InvalidArgument, "marshal message")
	}
	switch format {
	case FormatJSON:
		return string(body), nil
	case FormatBase64JSON:
		return base64Encode(body), nil
	default:
		return "", awcperrors.New(awcperrors.InvalidArgument, "unsupported serialization format: "+string(format))
	}
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339)
}

func nowTime() time.Time {
	return time.Now()
}

func jsonMarshal(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func deserializeMessage(data string, format SerializationFormat) (Message, error) {
	var raw []byte
	switch format {
	case FormatJSON:
		raw = []byte(data)
	case FormatBase64JSON:
		decoded, err := base64Decode(data)
		if err != nil {
			return Message{}, awcperrors.Wrap(err, awcperrors.InvalidArgument, "base64 decode message")
		}
		raw = decoded
	default:
		return Message{}, awcperrors.New(awcperrors.InvalidArgument, "unsupported serialization format: "+string(format))
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, awcperrors.Wrap(err, awcperrors.InvalidArgument, "unmarshal message")
	}
	return msg, nil
}

// SendAsync enqueues a message for background delivery and returns
// immediately. The queue is drained by the worker started with
// StartAsyncProcessing.
func (f *Fabric) SendAsync(recipient interface{}, messageType string, content interface{}, sender string, metadata map[string]interface{}) Delivery {
	select {
	case f.asyncQueue <- pendingMessage{recipient: recipient, msgType: messageType, content: content, sender: sender, metadata: metadata}:
		return Delivery{Status: StatusQueued, Extra: map[string]interface{}{"queue_size": len(f.asyncQueue)}}
	default:
		return Delivery{Status: StatusFailed, Error: "failed to queue message: queue full"}
	}
}

// RegisterAsyncHandler registers fn to process queued messages of
// messageType in place of a synchronous Send.
func (f *Fabric) RegisterAsyncHandler(messageType string, fn AsyncHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asyncHandlers[messageType] = fn
}

// StartAsyncProcessing starts the single background worker draining the
// async queue. Idempotent: returns false if already running.
func (f *Fabric) StartAsyncProcessing() bool {
	f.asyncMu.Lock()
	defer f.asyncMu.Unlock()
	if f.asyncRunning {
		return false
	}
	f.asyncRunning = true
	f.asyncStop = make(chan struct{})
	f.asyncStopped = make(chan struct{})
	go f.asyncLoop(f.asyncStop, f.asyncStopped)
	return true
}

// StopAsyncProcessing cooperatively stops the worker and joins within a
// bounded timeout. Idempotent: returns false if not running.
func (f *Fabric) StopAsyncProcessing() bool {
	f.asyncMu.Lock()
	if !f.asyncRunning {
		f.asyncMu.Unlock()
		return false
	}
	f.asyncRunning = false
	stop := f.asyncStop
	stopped := f.asyncStopped
	f.asyncMu.Unlock()

	close(stop)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		f.logger.Warn("async processing loop did not stop within timeout", nil)
	}
	return true
}

func (f *Fabric) asyncLoop(stop, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-stop:
			return
		case msg := <-f.asyncQueue:
			f.processAsyncMessage(msg)
		}
	}
}

func (f *Fabric) processAsyncMessage(msg pendingMessage) {
	ctx := context.Background()

	f.mu.RLock()
	handler, ok := f.asyncHandlers[msg.msgType]
	f.mu.RUnlock()

	if ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Errorf("panic in async handler for %s: %v", msg.msgType, r)
				}
			}()
			handler(ctx, msg.sender, msg.content, msg.metadata)
		}()
		return
	}
	f.Send(ctx, msg.recipient, msg.msgType, msg.content, msg.sender, msg.metadata)
}

// SetOwner sets the owner id this fabric instance sends and routes on
// behalf of.
func (f *Fabric) SetOwner(ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownerID = ownerID
}

// AddOwnershipRoute registers destination as the target for messages
// addressed to recipientOwnerID via RouteByOwnership.
func (f *Fabric) AddOwnershipRoute(ownerID string, destination interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownershipRoutes[ownerID] = destination
}

// SetCrossOwnerPolicy sets the policy applied to cross-owner traffic in
// RouteByOwnership: "deny", "allow", or "secure".
func (f *Fabric) SetCrossOwnerPolicy(policy string) error {
	switch policy {
	case "deny", "allow", "secure":
	default:
		return awcperrors.New(awcperrors.InvalidArgument, "invalid cross-owner policy: "+policy)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crossOwnerPolicy = policy
	return nil
}

// RouteByOwnership routes a message using ownership information, enforcing
// the configured cross-owner policy before consulting the ownership route
// table.
func (f *Fabric) RouteByOwnership(ctx context.Context, senderOwnerID, recipientOwnerID, messageType string, content interface{}, sender string, metadata map[string]interface{}) Delivery {
	isCrossOwner := senderOwnerID != recipientOwnerID

	f.mu.RLock()
	policy := f.crossOwnerPolicy
	securityEnabled := f.security != nil && f.security.enabled
	destination, hasRoute := f.ownershipRoutes[recipientOwnerID]
	f.mu.RUnlock()

	if isCrossOwner {
		switch policy {
		case "deny":
			return Delivery{Status: StatusFailed, Error: "cross-owner communication denied by policy"}
		case "secure":
			if !securityEnabled {
				return Delivery{Status: StatusFailed, Error: "secure communication required but not enabled"}
			}
		}
	}

	if !hasRoute {
		return Delivery{Status: StatusFailed, Error: "no route found for owner: " + recipientOwnerID}
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["sender_owner_id"] = senderOwnerID
	metadata["recipient_owner_id"] = recipientOwnerID
	metadata["cross_owner"] = isCrossOwner

	if isCrossOwner && policy == "secure" && sender != "" {
		f.mu.RLock()
		_, hasKey := f.security.authKeys[sender]
		f.mu.RUnlock()
		if hasKey {
			return f.SendSecure(ctx, destination, messageType, content, sender)
		}
	}
	return f.Send(ctx, destination, messageType, content, sender, metadata)
}
