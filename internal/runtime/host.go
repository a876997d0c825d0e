package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/viewbridge/internal/runtime/channel"
	configpkg "github.com/drblury/viewbridge/internal/runtime/config"
	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	"github.com/drblury/viewbridge/internal/runtime/interactivity"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
	registrypkg "github.com/drblury/viewbridge/internal/runtime/registry"
	"github.com/drblury/viewbridge/internal/runtime/service"
	"github.com/drblury/viewbridge/transport"
)

const shutdownTimeout = 5 * time.Second

// HostDependencies holds the optional collaborators of a Host.
// Leave fields nil to use the defaults.
type HostDependencies struct {
	// Transport is used instead of building one from the config. The host
	// does not close it.
	Transport *transport.Transport
	// Transports resolves PubSubSystem. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// Prometheus receives the host metrics. Defaults to a private registry
	// served on the metrics port.
	Prometheus *prometheus.Registry

	Alerts service.AlertSink
	Errors service.ErrorSink
	// Hooks run after the built-in logging and metrics hooks.
	Hooks  service.CallHooks
	OnLoad func(identity protocol.Identity)
}

// MountOption customizes a single mounted view.
type MountOption func(*service.Options)

// WithNamespace overrides the configured namespace for one view.
func WithNamespace(namespace string) MountOption {
	return func(o *service.Options) { o.Namespace = namespace }
}

// WithMethods overrides the legacy method names for one view.
func WithMethods(methods service.MethodNames) MountOption {
	return func(o *service.Options) { o.Methods = methods }
}

// WithCallTimeout overrides the call timeout for one view.
func WithCallTimeout(d time.Duration) MountOption {
	return func(o *service.Options) { o.CallTimeout = d }
}

// Host owns the page side: one service instance per mounted view, the
// service registry, the interactivity bus and the optional HTTP endpoints.
type Host struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport     transport.Transport
	ownsTransport bool
	codec         protocol.Codec
	codecs        *protocol.Registry

	registry   *registrypkg.Registry
	bus        *interactivity.Bus
	metrics    *metricspkg.Collector
	prometheus *prometheus.Registry
	deps       HostDependencies

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	mounted map[string]*service.Instance
	closed  bool

	httpServersMu sync.Mutex
	httpServers   map[int]*http.ServeMux
	servers       []*http.Server
}

// NewHost validates conf and connects to the configured transport.
func NewHost(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps HostDependencies) (*Host, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	conf = &resolved

	codec, err := protocol.CodecByName(conf.WireCodec)
	if err != nil {
		return nil, err
	}

	log.Info("Creating view host", loggingpkg.LogFields{
		"pubsub_system": conf.GetPubSubSystem(),
		"config":        conf,
	})

	tr, owns, err := buildTransport(ctx, conf, log, deps.Transport, deps.Transports)
	if err != nil {
		return nil, err
	}

	promRegistry := deps.Prometheus
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	collector := metricspkg.New(promRegistry)
	if err := collector.Register(); err != nil {
		if owns {
			_ = tr.Close()
		}
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	bus := interactivity.NewBus(log)
	bus.OnPublish = func(string) { collector.RecordPublication() }

	hostCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Host{
		Conf:          conf,
		Logger:        log,
		transport:     tr,
		ownsTransport: owns,
		codec:         codec,
		codecs:        protocol.NewRegistry(),
		registry:      registrypkg.New(collector, log),
		bus:           bus,
		metrics:       collector,
		prometheus:    promRegistry,
		deps:          deps,
		ctx:           hostCtx,
		cancel:        cancel,
		mounted:       make(map[string]*service.Instance),
	}, nil
}

func buildTransport(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, given *transport.Transport, registry *transport.Registry) (transport.Transport, bool, error) {
	if given != nil {
		if given.Publisher == nil {
			return transport.Transport{}, false, errspkg.ErrPublisherRequired
		}
		if given.Subscriber == nil {
			return transport.Transport{}, false, errspkg.ErrSubscriberRequired
		}
		return *given, false, nil
	}
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	tr, err := registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return transport.Transport{}, false, err
	}
	return tr, true, nil
}

// Mount opens the channel to the view identified by identity and registers
// its service instance. Mounting an identity again replaces the previous
// instance.
func (h *Host) Mount(ctx context.Context, identity protocol.Identity, opts ...MountOption) (*service.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errspkg.ErrAdapterClosed
	}
	previous := h.mounted[identity.Key()]
	h.mu.Unlock()
	if previous != nil {
		h.unmount(previous)
	}

	channelID := channel.ChannelID(identity)
	adapterCfg := channel.HostConfig(h.Conf.TopicPrefix, channelID, h.Conf.LocalOrigin, h.Conf.ExpectedOrigin)
	adapterCfg.Codec = h.codec
	adapterCfg.Codecs = h.codecs
	adapterCfg.OnDrop = h.metrics.RecordDrop

	logger := h.Logger.With(loggingpkg.LogFields{"channel": channelID})
	adapter, err := channel.NewAdapter(h.transport.Publisher, h.transport.Subscriber, adapterCfg, logger)
	if err != nil {
		return nil, err
	}

	options := service.Options{
		CallTimeout: h.Conf.CallTimeout,
		Namespace:   h.Conf.Namespace,
		Bus:         h.bus,
		Alerts:      h.deps.Alerts,
		Errors:      h.deps.Errors,
		Hooks:       service.LoggingHooks(logger).Merge(h.deps.Hooks),
		OnLoad:      h.deps.OnLoad,
		Metrics:     h.metrics,
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&options)
	}

	instance, err := service.NewInstance(identity, adapter, options)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	if err := instance.Start(h.ctx); err != nil {
		_ = instance.Destroy()
		return nil, err
	}
	if err := h.registry.Register(instance); err != nil {
		_ = instance.Destroy()
		return nil, err
	}

	h.mu.Lock()
	h.mounted[identity.Key()] = instance
	h.mu.Unlock()

	h.Logger.Info("View mounted", loggingpkg.LogFields{"service": identity.Key(), "channel": channelID})
	return instance, nil
}

// Unmount deregisters and destroys the view's instance. Unknown identities
// are ignored.
func (h *Host) Unmount(identity protocol.Identity) error {
	h.mu.Lock()
	instance := h.mounted[identity.Key()]
	h.mu.Unlock()
	if instance == nil {
		return nil
	}
	return h.unmount(instance)
}

func (h *Host) unmount(instance *service.Instance) error {
	key := instance.Identity().Key()
	h.mu.Lock()
	if h.mounted[key] == instance {
		delete(h.mounted, key)
	}
	h.mu.Unlock()

	if current, ok := h.registry.Get(instance.Identity()); ok && current == registrypkg.Service(instance) {
		h.registry.Deregister(instance)
	}
	err := instance.Destroy()
	h.Logger.Info("View unmounted", loggingpkg.LogFields{"service": key})
	return err
}

// Instance returns the mounted instance for identity.
func (h *Host) Instance(identity protocol.Identity) (*service.Instance, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	instance, ok := h.mounted[identity.Key()]
	return instance, ok
}

// PushNotification delivers event to every mounted view concurrently.
func (h *Host) PushNotification(ctx context.Context, event any) []registrypkg.Outcome {
	return h.registry.PushNotification(ctx, event)
}

// ResetPage drops all interactivity state, as when the page is left.
func (h *Host) ResetPage() {
	h.bus.Clear()
	h.Logger.Debug("Page interactivity reset", nil)
}

// Bus returns the page's interactivity bus.
func (h *Host) Bus() *interactivity.Bus { return h.bus }

// Registry returns the service registry.
func (h *Host) Registry() *registrypkg.Registry { return h.registry }

// Metrics returns the metrics collector.
func (h *Host) Metrics() *metricspkg.Collector { return h.metrics }

// Capabilities reports the capabilities of the configured transport.
func (h *Host) Capabilities() transport.Capabilities {
	registry := h.deps.Transports
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	return registry.GetCapabilities(h.Conf.GetPubSubSystem())
}

// Start serves the metrics and inspector endpoints when enabled and blocks
// until ctx is cancelled.
func (h *Host) Start(ctx context.Context) error {
	if h.Conf.MetricsEnabled {
		h.RegisterHTTPHandler(h.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(h.prometheus, promhttp.HandlerOpts{}))
	}
	if h.Conf.InspectorEnabled {
		h.registerInspector(h.Conf.InspectorPort)
	}
	h.startHTTPServers()

	<-ctx.Done()
	h.shutdownHTTPServers()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// RegisterHTTPHandler adds handler to the server on port. Servers start
// with Start.
func (h *Host) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	h.httpServersMu.Lock()
	defer h.httpServersMu.Unlock()

	if h.httpServers == nil {
		h.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := h.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		h.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (h *Host) startHTTPServers() {
	h.httpServersMu.Lock()
	defer h.httpServersMu.Unlock()

	for port, mux := range h.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		h.servers = append(h.servers, srv)
		h.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
	h.httpServers = nil
}

func (h *Host) shutdownHTTPServers() {
	h.httpServersMu.Lock()
	servers := h.servers
	h.servers = nil
	h.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			h.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}

// Close unmounts every view and closes the transport if the host built it.
// Further calls are no-ops.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	instances := make([]*service.Instance, 0, len(h.mounted))
	for _, instance := range h.mounted {
		instances = append(instances, instance)
	}
	h.mu.Unlock()

	var errs []error
	for _, instance := range instances {
		errs = append(errs, h.unmount(instance))
	}
	h.cancel()
	h.shutdownHTTPServers()
	h.bus.Clear()
	if h.ownsTransport {
		errs = append(errs, h.transport.Close())
	}
	return errors.Join(errs...)
}
