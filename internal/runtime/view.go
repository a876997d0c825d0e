package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/drblury/viewbridge/internal/runtime/channel"
	configpkg "github.com/drblury/viewbridge/internal/runtime/config"
	"github.com/drblury/viewbridge/internal/runtime/dispatcher"
	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
	"github.com/drblury/viewbridge/transport"
)

// ViewDependencies holds the optional collaborators of a View.
type ViewDependencies struct {
	// Transport is used instead of building one from the config. The view
	// does not close it.
	Transport *transport.Transport
	// Transports resolves PubSubSystem. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// Namespaces is shared with other views of the same process when set.
	Namespaces *dispatcher.Namespaces
	// Metrics counts dropped inbound messages. Nil disables it.
	Metrics *metricspkg.Collector
}

// View is the embedded side of one channel: an adapter bound to the view's
// topics and a dispatcher answering the host.
type View struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	identity      protocol.Identity
	transport     transport.Transport
	ownsTransport bool
	adapter       *channel.Adapter
	dispatcher    *dispatcher.Dispatcher

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// NewView connects the view identified by identity. Conf.LocalOrigin is the
// view's origin and Conf.ExpectedOrigin the host's.
func NewView(ctx context.Context, conf *configpkg.Config, identity protocol.Identity, log loggingpkg.ServiceLogger, deps ViewDependencies) (*View, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	resolved := conf.WithDefaults()
	conf = &resolved

	codec, err := protocol.CodecByName(conf.WireCodec)
	if err != nil {
		return nil, err
	}

	tr, owns, err := buildTransport(ctx, conf, log, deps.Transport, deps.Transports)
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*View, error) {
		if owns {
			_ = tr.Close()
		}
		return nil, err
	}

	channelID := channel.ChannelID(identity)
	logger := log.With(loggingpkg.LogFields{"channel": channelID})

	adapterCfg := channel.ViewConfig(conf.TopicPrefix, channelID, conf.ExpectedOrigin, conf.LocalOrigin)
	adapterCfg.Codec = codec
	if deps.Metrics != nil {
		adapterCfg.OnDrop = deps.Metrics.RecordDrop
	}
	adapter, err := channel.NewAdapter(tr.Publisher, tr.Subscriber, adapterCfg, logger)
	if err != nil {
		return closeOnErr(err)
	}

	d, err := dispatcher.New(adapter, deps.Namespaces, dispatcher.Config{
		NodeID:                       identity.NodeID,
		Namespace:                    conf.Namespace,
		InitMethodName:               conf.InitMethodName,
		ValidateMethodName:           conf.ValidateMethodName,
		GetValueMethodName:           conf.GetValueMethodName,
		SetValidationErrorMethodName: conf.SetValidationErrorMethodName,
	}, logger)
	if err != nil {
		_ = adapter.Close()
		return closeOnErr(err)
	}

	return &View{
		Conf:          conf,
		Logger:        logger,
		identity:      identity,
		transport:     tr,
		ownsTransport: owns,
		adapter:       adapter,
		dispatcher:    d,
	}, nil
}

// Identity returns the view's identity.
func (v *View) Identity() protocol.Identity { return v.identity }

// Dispatcher returns the dispatcher for alerts, errors, load reporting and
// interactivity.
func (v *View) Dispatcher() *dispatcher.Dispatcher { return v.dispatcher }

// Namespaces returns the namespace registry the dispatcher resolves from.
func (v *View) Namespaces() *dispatcher.Namespaces { return v.dispatcher.Namespaces() }

// Register exposes methods under namespace.
func (v *View) Register(namespace string, methods dispatcher.View) {
	v.dispatcher.Namespaces().Register(namespace, methods)
}

// OnNotification installs the handler for host notifications.
func (v *View) OnNotification(h dispatcher.NotificationHandler) {
	v.dispatcher.OnNotification(h)
}

// Start begins answering the host. It must run before the host sends init.
// Later calls are no-ops.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errspkg.ErrAdapterClosed
	}
	if v.started {
		return nil
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := v.adapter.OnMessage(listenCtx, v.dispatcher.Dispatch); err != nil {
		cancel()
		return err
	}
	v.cancel = cancel
	v.started = true
	v.Logger.Info("View started", loggingpkg.LogFields{"service": v.identity.Key()})
	return nil
}

// Close stops the adapter and closes the transport if the view built it.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	cancel := v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	errs := []error{v.adapter.Close()}
	if v.ownsTransport {
		errs = append(errs, v.transport.Close())
	}
	return errors.Join(errs...)
}
