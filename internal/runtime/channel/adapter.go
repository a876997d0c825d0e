// Package channel carries protocol messages between a host and one view over
// a Watermill publisher/subscriber pair, enforcing the origin rules of the
// embedding boundary.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	idspkg "github.com/drblury/viewbridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/viewbridge/internal/runtime/metadata"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

// Drop reasons passed to AdapterConfig.OnDrop.
const (
	DropForeignOrigin = "foreign_origin"
	DropTargetOrigin  = "target_origin"
	DropUndecodable   = "undecodable"
	DropNoHandler     = "no_handler"
)

// Handler receives decoded inbound messages.
type Handler func(ctx context.Context, msg *protocol.Message)

// AdapterConfig configures one side of a channel.
type AdapterConfig struct {
	// InboundTopic is read, OutboundTopic is written.
	InboundTopic  string
	OutboundTopic string
	// LocalOrigin is stamped on outbound messages and matched against the
	// target_origin of inbound ones.
	LocalOrigin string
	// ExpectedOrigin is the counterpart's origin.
	ExpectedOrigin string
	// Codec encodes outbound messages. Defaults to JSON.
	Codec protocol.Codec
	// Codecs decodes inbound messages by content type. Defaults to
	// protocol.NewRegistry().
	Codecs *protocol.Registry
	// OnDrop, when set, is told about every discarded inbound message.
	OnDrop func(reason string)
}

// Adapter is a bidirectional, origin checked message channel.
type Adapter struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cfg        AdapterConfig
	logger     loggingpkg.ServiceLogger

	mu        sync.Mutex
	handler   Handler
	listening bool
	closed    bool
	cancel    context.CancelFunc

	dropped atomic.Uint64
}

// NewAdapter validates the configuration and returns an adapter. The adapter
// does not own the publisher and subscriber; closing it leaves them open.
func NewAdapter(pub message.Publisher, sub message.Subscriber, cfg AdapterConfig, logger loggingpkg.ServiceLogger) (*Adapter, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if sub == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if cfg.InboundTopic == "" || cfg.OutboundTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSON()
	}
	if cfg.Codecs == nil {
		cfg.Codecs = protocol.NewRegistry()
	}
	return &Adapter{
		publisher:  pub,
		subscriber: sub,
		cfg:        cfg,
		logger:     logger.With(loggingpkg.LogFields{"inbound_topic": cfg.InboundTopic, "outbound_topic": cfg.OutboundTopic}),
	}, nil
}

// NewWatermillMessage encodes msg with codec and stamps the channel headers.
func NewWatermillMessage(msg *protocol.Message, codec protocol.Codec, localOrigin, targetOrigin string) (*message.Message, error) {
	if msg == nil {
		return nil, errspkg.ErrMessagePayloadNeeded
	}

	payload, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	md := metadatapkg.New(
		metadatapkg.KeyContentType, codec.ContentType(),
		metadatapkg.KeyMessageType, string(msg.Type),
	).
		With(metadatapkg.KeyOrigin, localOrigin).
		With(metadatapkg.KeyTargetOrigin, targetOrigin).
		With(metadatapkg.KeyNodeID, msg.NodeID).
		With(metadatapkg.KeyCorrelationID, msg.RequestID)

	wm := message.NewMessage(idspkg.CreateULID(), payload)
	wm.Metadata = metadatapkg.ToWatermill(md)
	return wm, nil
}

// Send publishes msg to the counterpart. An empty targetOrigin is derived
// from the expected origin.
func (a *Adapter) Send(ctx context.Context, msg *protocol.Message, targetOrigin string) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return errspkg.ErrAdapterClosed
	}

	if targetOrigin == "" {
		targetOrigin = TargetOrigin(a.cfg.ExpectedOrigin)
	}

	wm, err := NewWatermillMessage(msg, a.cfg.Codec, a.cfg.LocalOrigin, targetOrigin)
	if err != nil {
		return err
	}
	if ctx != nil {
		wm.SetContext(ctx)
	}

	a.logger.Trace("Sending message", loggingpkg.LogFields{"message": msg.String(), "target_origin": targetOrigin})
	if err := a.publisher.Publish(a.cfg.OutboundTopic, wm); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// OnMessage installs handler for inbound messages. The first call subscribes
// to the inbound topic for the lifetime of ctx; later calls only replace the
// handler.
func (a *Adapter) OnMessage(ctx context.Context, handler Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errspkg.ErrAdapterClosed
	}
	a.handler = handler
	if a.listening {
		return nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	messages, err := a.subscriber.Subscribe(listenCtx, a.cfg.InboundTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", a.cfg.InboundTopic, err)
	}
	a.cancel = cancel
	a.listening = true

	go a.listen(messages)
	return nil
}

// listen acks each message as soon as it is taken so a publisher blocked on
// the ack is released before the handler runs; handlers sending on the
// reverse direction cannot wait on each other. Messages are handled one at a
// time in arrival order.
func (a *Adapter) listen(messages <-chan *message.Message) {
	in := newInbox()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			wm, ok := in.pop()
			if !ok {
				return
			}
			a.handle(wm)
		}
	}()

	for wm := range messages {
		wm.Ack()
		in.push(wm)
	}
	in.close()
	<-done
}

// inbox is an unbounded FIFO between the subscription and the handler.
type inbox struct {
	mu     sync.Mutex
	items  []*message.Message
	closed bool
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (in *inbox) push(wm *message.Message) {
	in.mu.Lock()
	in.items = append(in.items, wm)
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) signal() {
	select {
	case in.ready <- struct{}{}:
	default:
	}
}

// pop blocks until a message is queued. It reports false once the inbox is
// closed and drained.
func (in *inbox) pop() (*message.Message, bool) {
	for {
		in.mu.Lock()
		if len(in.items) > 0 {
			wm := in.items[0]
			in.items[0] = nil
			in.items = in.items[1:]
			in.mu.Unlock()
			return wm, true
		}
		closed := in.closed
		in.mu.Unlock()
		if closed {
			return nil, false
		}
		<-in.ready
	}
}

func (a *Adapter) handle(wm *message.Message) {
	md := metadatapkg.FromWatermill(wm.Metadata)

	if origin := md.Origin(); !AcceptOrigin(a.cfg.ExpectedOrigin, origin) {
		a.drop(DropForeignOrigin, loggingpkg.LogFields{"origin": origin})
		return
	}
	if target := md.TargetOrigin(); !DeliverableTo(target, a.cfg.LocalOrigin) {
		a.drop(DropTargetOrigin, loggingpkg.LogFields{"target_origin": target})
		return
	}

	codec := a.cfg.Codecs.Get(md.ContentType())
	if codec == nil {
		codec = a.cfg.Codec
	}
	var msg protocol.Message
	if err := codec.Unmarshal(wm.Payload, &msg); err != nil || msg.Type == "" {
		a.drop(DropUndecodable, loggingpkg.LogFields{"message_uuid": wm.UUID, "content_type": md.ContentType()})
		return
	}

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		a.drop(DropNoHandler, nil)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Message handler panicked", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{"message": msg.String()})
		}
	}()
	handler(wm.Context(), &msg)
}

func (a *Adapter) drop(reason string, fields loggingpkg.LogFields) {
	a.dropped.Add(1)
	if fields == nil {
		fields = loggingpkg.LogFields{}
	}
	fields["reason"] = reason
	a.logger.Debug("Dropping inbound message", fields)
	if a.cfg.OnDrop != nil {
		a.cfg.OnDrop(reason)
	}
}

// Dropped returns how many inbound messages were discarded.
func (a *Adapter) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops the listener. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.handler = nil
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
