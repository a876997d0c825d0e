// Package service is the host side of a channel: one Instance per mounted
// view, correlating calls with replies and routing the view's alerts, errors,
// load reports and interactivity traffic.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/viewbridge/internal/runtime/channel"
	configpkg "github.com/drblury/viewbridge/internal/runtime/config"
	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	idspkg "github.com/drblury/viewbridge/internal/runtime/ids"
	"github.com/drblury/viewbridge/internal/runtime/interactivity"
	"github.com/drblury/viewbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

const tracerName = "github.com/drblury/viewbridge/service"

// Channel is the host end of a message channel. *channel.Adapter satisfies it.
type Channel interface {
	Send(ctx context.Context, msg *protocol.Message, targetOrigin string) error
	OnMessage(ctx context.Context, handler channel.Handler) error
	Close() error
}

// AlertSink receives alerts raised by views.
type AlertSink interface {
	Alert(identity protocol.Identity, level, message string)
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(identity protocol.Identity, level, message string)

func (f AlertSinkFunc) Alert(identity protocol.Identity, level, message string) {
	f(identity, level, message)
}

// ErrorSink receives errors reported by views outside of a call.
type ErrorSink interface {
	ReportError(identity protocol.Identity, err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(identity protocol.Identity, err error)

func (f ErrorSinkFunc) ReportError(identity protocol.Identity, err error) {
	f(identity, err)
}

// MethodNames overrides the method names the view resolves for the legacy
// calls. Empty names leave the view's configuration in charge.
type MethodNames struct {
	Init               string
	Validate           string
	GetValue           string
	SetValidationError string
}

// Options configures an Instance.
type Options struct {
	// CallTimeout bounds every call. Defaults to config.DefaultCallTimeout.
	CallTimeout time.Duration
	// Namespace is sent with every call.
	Namespace string
	Methods   MethodNames
	// Bus receives the view's interactivity traffic. Nil ignores it.
	Bus    *interactivity.Bus
	Alerts AlertSink
	Errors ErrorSink
	Hooks  CallHooks
	// OnLoad runs when the view reports that its resources loaded.
	OnLoad  func(identity protocol.Identity)
	Metrics *metricspkg.Collector
	Logger  loggingpkg.ServiceLogger
}

type result struct {
	msg *protocol.Message
	err error
}

type waiter struct {
	msgType protocol.Type
	done    chan result
}

// Instance is the host side of one mounted view.
type Instance struct {
	identity protocol.Identity
	ch       Channel
	opts     Options
	hooks    CallHooks
	logger   loggingpkg.ServiceLogger
	tracer   trace.Tracer
	ids      *idspkg.Source

	mu            sync.Mutex
	pending       map[string]*waiter
	legacy        map[protocol.Type][]string
	subscriptions map[string]*interactivity.Subscription
	started       bool
	destroyed     bool
}

// NewInstance binds identity to ch.
func NewInstance(identity protocol.Identity, ch Channel, opts Options) (*Instance, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, errspkg.ErrAdapterRequired
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = configpkg.DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.NewNopLogger()
	}

	hooks := opts.Hooks
	if opts.Metrics != nil {
		hooks = hooks.Merge(MetricsHooks(opts.Metrics))
	}

	return &Instance{
		identity:      identity,
		ch:            ch,
		opts:          opts,
		hooks:         hooks,
		logger:        opts.Logger.With(loggingpkg.LogFields{"service": identity.Key()}),
		tracer:        otel.Tracer(tracerName),
		ids:           idspkg.NewSource(),
		pending:       make(map[string]*waiter),
		legacy:        make(map[protocol.Type][]string),
		subscriptions: make(map[string]*interactivity.Subscription),
	}, nil
}

// Identity returns the immutable identity.
func (s *Instance) Identity() protocol.Identity { return s.identity }

// Start installs the inbound handler. Later calls are no-ops.
func (s *Instance) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return errspkg.ErrInstanceDestroyed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	return s.ch.OnMessage(ctx, s.handle)
}

// CallMethod invokes name on the view and returns its result.
func (s *Instance) CallMethod(ctx context.Context, name string, args ...any) (any, error) {
	if name == "" {
		return nil, errspkg.ErrMethodNameRequired
	}
	reply, err := s.call(ctx, name, &protocol.Message{Type: protocol.TypeRequest, Method: name, Args: args})
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// Init sends the view its representation and value. Init is not answered on
// success; failures reach the ErrorSink.
func (s *Instance) Init(ctx context.Context, representation, value any) error {
	rep, err := jsoncodec.Marshal(representation)
	if err != nil {
		return fmt.Errorf("marshal view representation: %w", err)
	}
	val, err := jsoncodec.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal view value: %w", err)
	}
	if s.isDestroyed() {
		return &errspkg.CallError{Method: string(protocol.TypeInit), Err: errspkg.ErrInstanceDestroyed}
	}

	msg := s.prepare(&protocol.Message{
		Type:               protocol.TypeInit,
		ViewRepresentation: string(rep),
		ViewValue:          string(val),
	})
	if err := s.ch.Send(ctx, msg, ""); err != nil {
		return &errspkg.CallError{Method: string(protocol.TypeInit), RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// Validate asks the view whether its current value is valid.
func (s *Instance) Validate(ctx context.Context) (bool, error) {
	reply, err := s.call(ctx, string(protocol.TypeValidate), &protocol.Message{Type: protocol.TypeValidate})
	if err != nil {
		return false, err
	}
	return reply.Valid(), nil
}

// GetValue returns the view's current value.
func (s *Instance) GetValue(ctx context.Context) (any, error) {
	reply, err := s.call(ctx, string(protocol.TypeGetValue), &protocol.Message{Type: protocol.TypeGetValue})
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// SetValidationError shows text as the view's validation error.
func (s *Instance) SetValidationError(ctx context.Context, text string) error {
	_, err := s.call(ctx, string(protocol.TypeSetValidationError), &protocol.Message{Type: protocol.TypeSetValidationError, ErrorMessage: text})
	return err
}

// PushNotification delivers event to the view's notification handler.
func (s *Instance) PushNotification(ctx context.Context, event any) (any, error) {
	reply, err := s.call(ctx, string(protocol.TypeNotification), &protocol.Message{Type: protocol.TypeNotification, Event: event})
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (s *Instance) prepare(msg *protocol.Message) *protocol.Message {
	msg.NodeID = s.identity.NodeID
	msg.RequestID = s.ids.Next()
	if msg.Namespace == "" {
		msg.Namespace = s.opts.Namespace
	}
	msg.InitMethodName = s.opts.Methods.Init
	msg.ValidateMethodName = s.opts.Methods.Validate
	msg.GetValueMethodName = s.opts.Methods.GetValue
	msg.SetValidationErrorMethodName = s.opts.Methods.SetValidationError
	return msg
}

func (s *Instance) call(ctx context.Context, method string, msg *protocol.Message) (*protocol.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	msg = s.prepare(msg)
	w := &waiter{msgType: msg.Type, done: make(chan result, 1)}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, &errspkg.CallError{Method: method, RequestID: msg.RequestID, Err: errspkg.ErrInstanceDestroyed}
	}
	s.pending[msg.RequestID] = w
	s.legacy[msg.Type] = append(s.legacy[msg.Type], msg.RequestID)
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "viewbridge.call "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("viewbridge.service", s.identity.Key()),
			attribute.String("viewbridge.method", method),
			attribute.String("viewbridge.request_id", msg.RequestID),
		),
	)
	defer span.End()

	callCtx := CallContext{
		Identity:  s.identity,
		Method:    method,
		RequestID: msg.RequestID,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	s.hooks.start(callCtx)

	reply, err := s.await(ctx, msg, w)
	if err != nil {
		err = &errspkg.CallError{Method: method, RequestID: msg.RequestID, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	callCtx.Duration = time.Since(callCtx.StartedAt)
	s.hooks.done(callCtx, err)
	return reply, err
}

func (s *Instance) await(ctx context.Context, msg *protocol.Message, w *waiter) (*protocol.Message, error) {
	if err := s.ch.Send(ctx, msg, ""); err != nil {
		s.forget(msg.RequestID)
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	select {
	case res := <-w.done:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Failed() {
			return res.msg, &errspkg.RemoteError{Type: string(res.msg.Type), Message: res.msg.Error}
		}
		return res.msg, nil
	case <-timeoutCtx.Done():
		s.forget(msg.RequestID)
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, errspkg.ErrCallTimeout
		}
		return nil, errspkg.ErrCallCancelled
	}
}

// forget drops a pending entry without resolving it.
func (s *Instance) forget(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(requestID)
}

func (s *Instance) removeLocked(requestID string) *waiter {
	w, ok := s.pending[requestID]
	if !ok {
		return nil
	}
	delete(s.pending, requestID)
	queue := s.legacy[w.msgType]
	if i := slices.Index(queue, requestID); i >= 0 {
		queue = slices.Delete(queue, i, i+1)
	}
	if len(queue) == 0 {
		delete(s.legacy, w.msgType)
	} else {
		s.legacy[w.msgType] = queue
	}
	return w
}

// resolve hands msg to its waiter. Replies without a request id resolve the
// oldest pending call of the same type.
func (s *Instance) resolve(msg *protocol.Message) bool {
	s.mu.Lock()
	requestID := msg.RequestID
	if requestID == "" {
		if queue := s.legacy[msg.Type]; len(queue) > 0 {
			requestID = queue[0]
		}
	}
	w := s.removeLocked(requestID)
	s.mu.Unlock()

	if w == nil {
		return false
	}
	w.done <- result{msg: msg}
	return true
}

// Pending returns the number of calls awaiting a reply.
func (s *Instance) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Instance) handle(ctx context.Context, msg *protocol.Message) {
	if msg.NodeID != "" && msg.NodeID != s.identity.NodeID {
		s.logger.Trace("Ignoring message for another node", loggingpkg.LogFields{"message": msg.String()})
		return
	}

	switch msg.Type {
	case protocol.TypeAlert:
		s.opts.Metrics.RecordAlert(msg.Level)
		if s.opts.Alerts != nil {
			s.opts.Alerts.Alert(s.identity, msg.Level, msg.Message)
		} else {
			s.logger.Info("View alert", loggingpkg.LogFields{"level": msg.Level, "message": msg.Message})
		}
	case protocol.TypeError:
		s.reportError(&errspkg.RemoteError{Type: string(msg.Type), Message: msg.Error})
	case protocol.TypeLoad:
		s.handleLoad(msg)
	case protocol.TypePublish:
		s.handlePublish(msg)
	case protocol.TypeSubscribe:
		s.handleSubscribe(msg)
	case protocol.TypeUnsubscribe:
		s.handleUnsubscribe(msg)
	default:
		if s.resolve(msg) {
			return
		}
		if msg.Failed() {
			s.reportError(&errspkg.RemoteError{Type: string(msg.Type), Message: msg.Error})
			return
		}
		s.logger.Debug("Dropping unmatched reply", loggingpkg.LogFields{"message": msg.String()})
	}
}

func (s *Instance) reportError(err error) {
	if s.opts.Errors != nil {
		s.opts.Errors.ReportError(s.identity, err)
		return
	}
	s.logger.Error("View reported an error", err, nil)
}

func (s *Instance) handleLoad(msg *protocol.Message) {
	if msg.Failed() {
		s.reportError(&errspkg.RemoteError{Type: string(msg.Type), Message: msg.Error})
		return
	}
	s.logger.Info("View resources loaded", nil)
	if s.opts.OnLoad != nil {
		s.opts.OnLoad(s.identity)
	}
}

func (s *Instance) handlePublish(msg *protocol.Message) {
	if s.opts.Bus == nil || msg.InteractivityID == "" {
		s.logger.Debug("Ignoring publication", loggingpkg.LogFields{"interactivity_id": msg.InteractivityID})
		return
	}
	s.mu.Lock()
	own := s.subscriptions[msg.InteractivityID]
	s.mu.Unlock()

	opts := []interactivity.PublishOption{interactivity.FromSubscriber(own)}
	if msg.FilterID != "" {
		opts = append(opts, interactivity.WithFilterID(msg.FilterID))
	}
	s.opts.Bus.Publish(msg.InteractivityID, msg.Data, opts...)
}

func (s *Instance) handleSubscribe(msg *protocol.Message) {
	if s.opts.Bus == nil || msg.InteractivityID == "" {
		s.logger.Debug("Ignoring subscription", loggingpkg.LogFields{"interactivity_id": msg.InteractivityID})
		return
	}
	id := msg.InteractivityID

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	previous := s.subscriptions[id]
	s.mu.Unlock()
	if previous != nil {
		s.opts.Bus.Unsubscribe(id, previous)
	}

	sub := s.opts.Bus.Subscribe(id, s.forwardUpdate, interactivity.WithFilterIDs(msg.FilterIDs...))
	s.keepSubscription(id, sub)
}

// keepSubscription records sub for id, or drops it from the bus when the
// instance was destroyed while the subscription was being made.
func (s *Instance) keepSubscription(id string, sub *interactivity.Subscription) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.opts.Bus.Unsubscribe(id, sub)
		return
	}
	s.subscriptions[id] = sub
	s.mu.Unlock()
}

func (s *Instance) forwardUpdate(u interactivity.Update) {
	err := s.ch.Send(context.Background(), &protocol.Message{
		Type:            protocol.TypeInteractivityUpdate,
		NodeID:          s.identity.NodeID,
		InteractivityID: u.InteractivityID,
		Data:            u.Data,
		FilterID:        u.FilterID,
	}, "")
	if err != nil {
		s.logger.Debug("Could not forward interactivity update", loggingpkg.LogFields{"interactivity_id": u.InteractivityID, "error": err.Error()})
	}
}

func (s *Instance) handleUnsubscribe(msg *protocol.Message) {
	if s.opts.Bus == nil {
		return
	}
	s.mu.Lock()
	sub, ok := s.subscriptions[msg.InteractivityID]
	delete(s.subscriptions, msg.InteractivityID)
	s.mu.Unlock()
	if ok {
		s.opts.Bus.Unsubscribe(msg.InteractivityID, sub)
	}
}

// Subscriptions lists the interactivity ids the view subscribed to.
func (s *Instance) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Instance) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy cancels pending calls, drops the view's bus subscriptions and
// closes the channel. It is safe to call more than once.
func (s *Instance) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	pending := s.pending
	subs := s.subscriptions
	s.pending = make(map[string]*waiter)
	s.legacy = make(map[protocol.Type][]string)
	s.subscriptions = make(map[string]*interactivity.Subscription)
	s.mu.Unlock()

	for _, w := range pending {
		w.done <- result{err: errspkg.ErrCallCancelled}
	}
	if s.opts.Bus != nil {
		for id, sub := range subs {
			s.opts.Bus.Unsubscribe(id, sub)
		}
	}
	return s.ch.Close()
}
