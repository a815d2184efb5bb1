package uisync

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/uisync/internal/runtime"
	configpkg "github.com/drblury/uisync/internal/runtime/config"
	"github.com/drblury/uisync/internal/runtime/dispatcher"
	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/interop"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/internal/runtime/render"
	"github.com/drblury/uisync/transport"

	// Register every built-in transport with the default registry.
	_ "github.com/drblury/uisync/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	StatusSnapshot      = runtimepkg.StatusSnapshot
	InitState           = runtimepkg.InitState

	// Startup and root components
	Startup            = runtimepkg.Startup
	StartupFunc        = runtimepkg.StartupFunc
	ApplicationBuilder = runtimepkg.ApplicationBuilder
	RootComponent      = runtimepkg.RootComponent
	RootComponentFunc  = runtimepkg.RootComponentFunc
	RootAttacher       = runtimepkg.RootAttacher

	// Navigation and UI events
	LocationChanged  = runtimepkg.LocationChanged
	Navigator        = runtimepkg.Navigator
	EventDescriptor  = runtimepkg.EventDescriptor
	UIEvent          = runtimepkg.UIEvent
	EventHandler     = runtimepkg.EventHandler
	EventHandlerFunc = runtimepkg.EventHandlerFunc

	// Render batch protocol
	Applier       = render.Applier
	ApplierFunc   = render.ApplierFunc
	Batch         = render.Batch
	BatchContext  = runtimepkg.BatchContext
	BatchHooks    = runtimepkg.BatchHooks
	Producer      = render.Producer
	ProducerStats = render.ProducerStats
	Consumer      = render.Consumer
	ConsumerStats = render.ConsumerStats

	// Event multiplexing and remote calls
	Multiplexer   = ipc.Multiplexer
	Args          = ipc.Args
	Callback      = ipc.Callback
	Subscription  = ipc.Subscription
	Peer          = interop.Peer
	InvokeHandler = interop.Handler
	RawMessage    = jsoncodec.RawMessage

	Dispatcher      = dispatcher.Dispatcher
	DispatcherState = dispatcher.State
	Future[T any]   = future.Future[T]

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	ResourceUsage   = runtimepkg.ResourceUsage

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Errors
	ConfigValidationError  = errspkg.ConfigValidationError
	ProtocolViolationError = errspkg.ProtocolViolationError
	FatalError             = errspkg.FatalError
	BatchError             = errspkg.BatchError
	PanicError             = errspkg.PanicError
	RemoteCallError        = errspkg.RemoteCallError
	PeerFaultError         = errspkg.PeerFaultError
	ErrorCategory          = errspkg.Category

	// Transports
	Channel               = transport.Channel
	Role                  = transport.Role
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks
	NewMetrics    = runtimepkg.NewMetrics

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	ClassifyError = errspkg.Classify

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	RegisterTransport = transport.Register
	NewRegistry       = transport.NewRegistry
)

var (
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrServiceRequired     = errspkg.ErrServiceRequired
	ErrApplierRequired     = errspkg.ErrApplierRequired
	ErrWrongRole           = errspkg.ErrWrongRole
	ErrHandshakeIncomplete = errspkg.ErrHandshakeIncomplete
	ErrNotOnDispatcher     = errspkg.ErrNotOnDispatcher
	ErrDispatcherStopped   = errspkg.ErrDispatcherStopped
	ErrChannelClosed       = errspkg.ErrChannelClosed
	ErrUnknownMethod       = errspkg.ErrUnknownMethod
	ErrMethodRegistered    = errspkg.ErrMethodRegistered
	ErrCanceled            = errspkg.ErrCanceled
)

// Endpoint roles.
const (
	RoleHost   = transport.RoleHost
	RoleRemote = transport.RoleRemote
)

// Event and method names used on the wire.
const (
	EventInit                   = runtimepkg.EventInit
	EventError                  = runtimepkg.EventError
	EventRenderBatch            = render.EventRenderBatch
	EventRenderCompleted        = render.EventRenderCompleted
	EventBeginInvoke            = interop.EventBeginInvoke
	EventEndInvoke              = interop.EventEndInvoke
	MethodAttachRootComponent   = runtimepkg.MethodAttachRootComponent
	MethodNotifyLocationChanged = runtimepkg.MethodNotifyLocationChanged
	MethodNavigateTo            = runtimepkg.MethodNavigateTo
	MethodDispatchEvent         = runtimepkg.MethodDispatchEvent
)

// Error categories reported by ClassifyError.
const (
	ErrorCategoryNone      = errspkg.CategoryNone
	ErrorCategoryCanceled  = errspkg.CategoryCanceled
	ErrorCategoryProtocol  = errspkg.CategoryProtocol
	ErrorCategoryApply     = errspkg.CategoryApply
	ErrorCategoryRemote    = errspkg.CategoryRemote
	ErrorCategoryWork      = errspkg.CategoryWork
	ErrorCategoryTransport = errspkg.CategoryTransport
)

// RegisterProtoMethod serves method on svc's peer with a typed protobuf handler.
func RegisterProtoMethod[Req, Resp proto.Message](svc *Service, method string, fn func(ctx context.Context, req Req) (Resp, error)) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return interop.RegisterProto(svc.Peer(), method, fn)
}

// InvokeOnDispatcher runs fn on svc's dispatcher and returns its result.
func InvokeOnDispatcher[T any](ctx context.Context, svc *Service, fn func() (T, error)) (T, error) {
	if svc == nil {
		var zero T
		return zero, errspkg.ErrServiceRequired
	}
	return dispatcher.Invoke(ctx, svc.Dispatcher(), fn)
}
