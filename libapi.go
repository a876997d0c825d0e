package viewbridge

import (
	runtimepkg "github.com/drblury/viewbridge/internal/runtime"
	configpkg "github.com/drblury/viewbridge/internal/runtime/config"
	"github.com/drblury/viewbridge/internal/runtime/dispatcher"
	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	idspkg "github.com/drblury/viewbridge/internal/runtime/ids"
	"github.com/drblury/viewbridge/internal/runtime/interactivity"
	jsoncodec "github.com/drblury/viewbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/viewbridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
	registrypkg "github.com/drblury/viewbridge/internal/runtime/registry"
	"github.com/drblury/viewbridge/internal/runtime/service"
	"github.com/drblury/viewbridge/transport"
	_ "github.com/drblury/viewbridge/transport/channel"
)

type (
	Config           = configpkg.Config
	Host             = runtimepkg.Host
	HostDependencies = runtimepkg.HostDependencies
	MountOption      = runtimepkg.MountOption
	View             = runtimepkg.View
	ViewDependencies = runtimepkg.ViewDependencies
	ServiceInfo      = runtimepkg.ServiceInfo
	Stats            = runtimepkg.Stats

	Identity    = protocol.Identity
	Message     = protocol.Message
	MessageType = protocol.Type
	Codec       = protocol.Codec

	Instance      = service.Instance
	MethodNames   = service.MethodNames
	CallContext   = service.CallContext
	CallHooks     = service.CallHooks
	AlertSink     = service.AlertSink
	AlertSinkFunc = service.AlertSinkFunc
	ErrorSink     = service.ErrorSink
	ErrorSinkFunc = service.ErrorSinkFunc

	Outcome = registrypkg.Outcome

	Namespaces          = dispatcher.Namespaces
	Method              = dispatcher.Method
	ViewMethods         = dispatcher.View
	NotificationHandler = dispatcher.NotificationHandler
	UpdateHandler       = dispatcher.UpdateHandler
	LoadCounter         = dispatcher.LoadCounter

	Bus                 = interactivity.Bus
	Update              = interactivity.Update
	Subscription        = interactivity.Subscription
	TopicInfo           = interactivity.TopicInfo
	SubscribeOption     = interactivity.SubscribeOption
	InteractivityOption = interactivity.PublishOption

	Metadata        = metadatapkg.Metadata
	MetricsSnapshot = metricspkg.Snapshot
	MethodStats     = metricspkg.MethodStats

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	RemoteError           = errspkg.RemoteError
	CallError             = errspkg.CallError

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewHost        = runtimepkg.NewHost
	NewView        = runtimepkg.NewView
	LoadFromEnv    = configpkg.LoadFromEnv
	ValidateConfig = configpkg.ValidateConfig

	WithNamespace   = runtimepkg.WithNamespace
	WithMethods     = runtimepkg.WithMethods
	WithCallTimeout = runtimepkg.WithCallTimeout

	WithFilterIDs = interactivity.WithFilterIDs
	AsTranslator  = interactivity.AsTranslator
	WithFilterID  = interactivity.WithFilterID

	NewNamespaces = dispatcher.NewNamespaces
	AlertLevel    = dispatcher.AlertLevel

	LoggingHooks = service.LoggingHooks
	MetricsHooks = service.MetricsHooks

	NewDefaultLogger          = loggingpkg.NewDefaultLogger
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrAdapterClosed      = errspkg.ErrAdapterClosed
	ErrNodeIDRequired     = errspkg.ErrNodeIDRequired
	ErrMethodNameRequired = errspkg.ErrMethodNameRequired
	ErrInteractivityID    = errspkg.ErrInteractivityID
	ErrCallTimeout        = errspkg.ErrCallTimeout
	ErrCallCancelled      = errspkg.ErrCallCancelled
	ErrInstanceDestroyed  = errspkg.ErrInstanceDestroyed
	ErrUnknownCodec       = errspkg.ErrUnknownCodec
	ErrUnknownTransport   = transport.ErrUnknownTransport
)

// Message types understood by hosts and views.
const (
	TypeInit                = protocol.TypeInit
	TypeValidate            = protocol.TypeValidate
	TypeGetValue            = protocol.TypeGetValue
	TypeSetValidationError  = protocol.TypeSetValidationError
	TypeLoad                = protocol.TypeLoad
	TypeError               = protocol.TypeError
	TypeAlert               = protocol.TypeAlert
	TypeRequest             = protocol.TypeRequest
	TypeResponse            = protocol.TypeResponse
	TypeNotification        = protocol.TypeNotification
	TypePublish             = protocol.TypePublish
	TypeSubscribe           = protocol.TypeSubscribe
	TypeUnsubscribe         = protocol.TypeUnsubscribe
	TypeInteractivityUpdate = protocol.TypeInteractivityUpdate
)

// Metadata keys stamped on every transport message.
const (
	MetadataKeyOrigin       = metadatapkg.KeyOrigin
	MetadataKeyTargetOrigin = metadatapkg.KeyTargetOrigin
	MetadataKeyContentType  = metadatapkg.KeyContentType
)

// LoadTimeoutMessage is reported when a view's resources fail to load.
const LoadTimeoutMessage = dispatcher.LoadTimeoutMessage
