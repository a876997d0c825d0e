// Package dispatcher is the view side of a channel: it resolves inbound
// protocol messages to methods of the view's namespace, invokes them and
// replies, and carries the view's alerts, errors, load reports and
// interactivity traffic back to the host.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/viewbridge/internal/runtime/config"
	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	"github.com/drblury/viewbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

const tracerName = "github.com/drblury/viewbridge/dispatcher"

// State of a dispatcher.
type State string

const (
	StateAwaitingInit State = "awaiting-init"
	StateReady        State = "ready"
)

// Sender delivers messages to the host. *channel.Adapter satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *protocol.Message, targetOrigin string) error
}

// Config names the view and the methods resolved for the legacy message
// types. Requests may override each method name.
type Config struct {
	NodeID                       string
	Namespace                    string
	InitMethodName               string
	ValidateMethodName           string
	GetValueMethodName           string
	SetValidationErrorMethodName string
}

func (c Config) withDefaults() Config {
	if c.InitMethodName == "" {
		c.InitMethodName = configpkg.DefaultInitMethod
	}
	if c.ValidateMethodName == "" {
		c.ValidateMethodName = configpkg.DefaultValidateMethod
	}
	if c.GetValueMethodName == "" {
		c.GetValueMethodName = configpkg.DefaultGetValueMethod
	}
	if c.SetValidationErrorMethodName == "" {
		c.SetValidationErrorMethodName = configpkg.DefaultSetValidationErrorMethod
	}
	return c
}

// NotificationHandler handles events pushed by the host.
type NotificationHandler func(ctx context.Context, event any) (any, error)

// UpdateHandler receives interactivity updates the view subscribed to.
type UpdateHandler func(ctx context.Context, data any, filterID string)

// Dispatcher answers host messages for one view.
type Dispatcher struct {
	cfg        Config
	namespaces *Namespaces
	sender     Sender
	logger     loggingpkg.ServiceLogger
	tracer     trace.Tracer

	mu            sync.RWMutex
	state         State
	notifications NotificationHandler
	updates       map[string]UpdateHandler
}

// New builds a dispatcher sending its replies through sender.
func New(sender Sender, namespaces *Namespaces, cfg Config, logger loggingpkg.ServiceLogger) (*Dispatcher, error) {
	if sender == nil {
		return nil, errspkg.ErrAdapterRequired
	}
	if namespaces == nil {
		namespaces = NewNamespaces()
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:        cfg,
		namespaces: namespaces,
		sender:     sender,
		logger:     logger.With(loggingpkg.LogFields{"node_id": cfg.NodeID, "namespace": cfg.Namespace}),
		tracer:     otel.Tracer(tracerName),
		state:      StateAwaitingInit,
		updates:    make(map[string]UpdateHandler),
	}, nil
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Namespaces returns the namespace registry.
func (d *Dispatcher) Namespaces() *Namespaces { return d.namespaces }

// OnNotification installs the handler for host notifications.
func (d *Dispatcher) OnNotification(h NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = h
}

// Dispatch handles one inbound message. It matches channel.Handler and never
// returns an error: failures are replied to the host.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *protocol.Message) {
	if msg == nil {
		return
	}
	if msg.NodeID != "" && d.cfg.NodeID != "" && msg.NodeID != d.cfg.NodeID {
		d.logger.Debug("Ignoring message for another node", loggingpkg.LogFields{"message": msg.String()})
		return
	}

	ctx, span := d.tracer.Start(ctx, "viewbridge.dispatch "+string(msg.Type),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("viewbridge.message_type", string(msg.Type)),
			attribute.String("viewbridge.node_id", msg.NodeID),
			attribute.String("viewbridge.request_id", msg.RequestID),
		),
	)
	defer span.End()

	reply := d.handle(ctx, msg)
	if reply == nil {
		return
	}
	if reply.Failed() {
		span.SetStatus(codes.Error, reply.Error)
		d.logger.Debug("Replying with error", loggingpkg.LogFields{"message": reply.String()})
	}
	if err := d.sender.Send(ctx, reply, ""); err != nil {
		span.RecordError(err)
		d.logger.Error("Failed to send reply", err, loggingpkg.LogFields{"message": reply.String()})
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *protocol.Message) *protocol.Message {
	switch msg.Type {
	case protocol.TypeInit:
		return d.handleInit(ctx, msg)
	case protocol.TypeValidate:
		return d.handleValidate(ctx, msg)
	case protocol.TypeGetValue:
		return d.handleGetValue(ctx, msg)
	case protocol.TypeSetValidationError:
		return d.handleSetValidationError(ctx, msg)
	case protocol.TypeRequest:
		return d.handleRequest(ctx, msg)
	case protocol.TypeNotification:
		return d.handleNotification(ctx, msg)
	case protocol.TypeInteractivityUpdate:
		d.handleInteractivityUpdate(ctx, msg)
		return nil
	default:
		d.logger.Debug("Ignoring unsupported message type", loggingpkg.LogFields{"message": msg.String()})
		return nil
	}
}

func (d *Dispatcher) resolve(msg *protocol.Message, override, fallback string) (Method, string, bool) {
	name := override
	if name == "" {
		name = fallback
	}
	ns := msg.Namespace
	if ns == "" {
		ns = d.cfg.Namespace
	}
	view, ok := d.namespaces.Lookup(ns)
	if !ok {
		return nil, name, false
	}
	m, ok := view.Method(name)
	return m, name, ok
}

func invoke(ctx context.Context, m Method, args ...any) (any, error) {
	return safeCall(func() (any, error) { return m(ctx, args...) })
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn()
}

func (d *Dispatcher) handleInit(ctx context.Context, msg *protocol.Message) *protocol.Message {
	representation, err := jsoncodec.UnmarshalString(msg.ViewRepresentation)
	if err != nil {
		return msg.ErrorReply("View initialization failed: " + err.Error())
	}
	value, err := jsoncodec.UnmarshalString(msg.ViewValue)
	if err != nil {
		return msg.ErrorReply("View initialization failed: " + err.Error())
	}

	m, _, ok := d.resolve(msg, msg.InitMethodName, d.cfg.InitMethodName)
	if !ok {
		return msg.ErrorReply("Init method not present in view.")
	}
	if _, err := invoke(ctx, m, representation, value); err != nil {
		return msg.ErrorReply("View initialization failed: " + err.Error())
	}

	d.mu.Lock()
	d.state = StateReady
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handleValidate(ctx context.Context, msg *protocol.Message) *protocol.Message {
	reply := msg.Reply()
	m, _, ok := d.resolve(msg, msg.ValidateMethodName, d.cfg.ValidateMethodName)
	if !ok {
		reply.IsValid = protocol.Bool(true)
		return reply
	}
	result, err := invoke(ctx, m)
	if err != nil {
		return msg.ErrorReply("View could not be validated: " + err.Error())
	}
	valid, isBool := result.(bool)
	if !isBool {
		valid = true
	}
	reply.IsValid = protocol.Bool(valid)
	return reply
}

func (d *Dispatcher) handleGetValue(ctx context.Context, msg *protocol.Message) *protocol.Message {
	m, _, ok := d.resolve(msg, msg.GetValueMethodName, d.cfg.GetValueMethodName)
	if !ok {
		return msg.ErrorReply("Value method not present in view.")
	}
	value, err := invoke(ctx, m)
	if err != nil {
		return msg.ErrorReply("Value could not be retrieved from view: " + err.Error())
	}
	reply := msg.Reply()
	reply.Value = value
	return reply
}

func (d *Dispatcher) handleSetValidationError(ctx context.Context, msg *protocol.Message) *protocol.Message {
	m, _, ok := d.resolve(msg, msg.SetValidationErrorMethodName, d.cfg.SetValidationErrorMethodName)
	if !ok {
		return msg.ErrorReply("View error message could not be set: Method does not exist.")
	}
	if _, err := invoke(ctx, m, msg.ErrorMessage); err != nil {
		return msg.ErrorReply("View error message could not be set: " + err.Error())
	}
	echo := *msg
	return &echo
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg *protocol.Message) *protocol.Message {
	if msg.Method == "" {
		return msg.ErrorReply("Method name is required.")
	}
	m, name, ok := d.resolve(msg, msg.Method, "")
	if !ok {
		return msg.ErrorReply(fmt.Sprintf("Method %s not present in view.", name))
	}
	value, err := invoke(ctx, m, msg.Args...)
	if err != nil {
		return msg.ErrorReply(fmt.Sprintf("Method %s failed: %s", name, err.Error()))
	}
	reply := msg.Reply()
	reply.Type = protocol.TypeResponse
	reply.Value = value
	return reply
}

func (d *Dispatcher) handleNotification(ctx context.Context, msg *protocol.Message) *protocol.Message {
	d.mu.RLock()
	handler := d.notifications
	d.mu.RUnlock()

	reply := msg.Reply()
	reply.Type = protocol.TypeResponse
	if handler == nil {
		return reply
	}

	value, err := safeCall(func() (any, error) { return handler(ctx, msg.Event) })
	if err != nil {
		return msg.ErrorReply("Notification could not be handled: " + err.Error())
	}
	reply.Value = value
	return reply
}

func (d *Dispatcher) handleInteractivityUpdate(ctx context.Context, msg *protocol.Message) {
	d.mu.RLock()
	handler, ok := d.updates[msg.InteractivityID]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("Dropping update without subscription", loggingpkg.LogFields{"interactivity_id": msg.InteractivityID})
		return
	}

	_, err := safeCall(func() (any, error) {
		handler(ctx, msg.Data, msg.FilterID)
		return nil, nil
	})
	if err != nil {
		d.logger.Debug("Interactivity handler failed", loggingpkg.LogFields{"interactivity_id": msg.InteractivityID, "error": err.Error()})
	}
}

func (d *Dispatcher) send(ctx context.Context, msg *protocol.Message) error {
	msg.NodeID = d.cfg.NodeID
	return d.sender.Send(ctx, msg, "")
}

// Publish publishes data under id on the host's interactivity bus. A
// non-empty filterID scopes the publication.
func (d *Dispatcher) Publish(ctx context.Context, id string, data any, filterID string) error {
	if id == "" {
		return errspkg.ErrInteractivityID
	}
	return d.send(ctx, &protocol.Message{Type: protocol.TypePublish, InteractivityID: id, Data: data, FilterID: filterID})
}

// Subscribe asks the host to forward publications of id to handler. One
// subscription per id is kept; subscribing again replaces the handler. If
// the subscribe message cannot be sent the handler is dropped again so a
// retry sends it.
func (d *Dispatcher) Subscribe(ctx context.Context, id string, handler UpdateHandler, filterIDs ...string) error {
	if id == "" {
		return errspkg.ErrInteractivityID
	}
	d.mu.Lock()
	_, existed := d.updates[id]
	d.updates[id] = handler
	d.mu.Unlock()
	if existed {
		return nil
	}
	if err := d.send(ctx, &protocol.Message{Type: protocol.TypeSubscribe, InteractivityID: id, FilterIDs: filterIDs}); err != nil {
		d.mu.Lock()
		delete(d.updates, id)
		d.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the subscription to id. The handler stays in place when
// the unsubscribe message cannot be sent.
func (d *Dispatcher) Unsubscribe(ctx context.Context, id string) error {
	d.mu.Lock()
	handler, existed := d.updates[id]
	delete(d.updates, id)
	d.mu.Unlock()
	if !existed {
		return nil
	}
	if err := d.send(ctx, &protocol.Message{Type: protocol.TypeUnsubscribe, InteractivityID: id}); err != nil {
		d.mu.Lock()
		if _, replaced := d.updates[id]; !replaced {
			d.updates[id] = handler
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// sendLoad reports the outcome of resource loading.
func (d *Dispatcher) sendLoad(ctx context.Context, cause error) error {
	msg := &protocol.Message{Type: protocol.TypeLoad}
	if cause != nil {
		msg.Error = cause.Error()
	}
	return d.send(ctx, msg)
}
