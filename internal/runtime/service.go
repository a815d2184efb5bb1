package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/uisync/internal/runtime/config"
	"github.com/drblury/uisync/internal/runtime/dispatcher"
	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/ids"
	"github.com/drblury/uisync/internal/runtime/interop"
	"github.com/drblury/uisync/internal/runtime/ipc"
	loggingpkg "github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/internal/runtime/render"
	"github.com/drblury/uisync/transport"
)

var multiplexerRun = func(mux *ipc.Multiplexer, ctx context.Context) error {
	return mux.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Channel is used as is when set; otherwise one is built from the
	// configuration through TransportRegistry.
	Channel           transport.Channel
	TransportRegistry *transport.Registry

	// Applier applies render batches. Required for the remote role. When it
	// also implements RootAttacher the remote serves root attachment calls.
	Applier render.Applier
	// Startup configures root components on the host.
	Startup Startup
	// EventHandler receives UI events the remote dispatches to the host.
	EventHandler EventHandler

	// Hooks are merged after the built-in metrics hooks.
	Hooks BatchHooks
	// OnUnhandledError receives dispatcher work failures, the first apply
	// failure of the consumer, and failed root attachments.
	OnUnhandledError func(error)

	// MetricsRegisterer receives the collectors when metrics are enabled.
	// When it is also a prometheus.Gatherer it backs the /metrics endpoint.
	MetricsRegisterer prometheus.Registerer
	Tracer            trace.Tracer
}

// Service is one endpoint of a synchronised UI pair. It owns the channel,
// the event multiplexer, the dispatcher and either the render batch
// producer (host) or consumer (remote).
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	id        string
	role      transport.Role
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	channel    transport.Channel
	mux        *ipc.Multiplexer
	dispatcher *dispatcher.Dispatcher
	peer       *interop.Peer
	producer   *render.Producer
	consumer   *render.Consumer
	metrics    *Metrics
	handshake  *handshake
	navigation *navigation
	roots      []rootRegistration
	resources  *resourceTracker

	onUnhandled func(error)

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a Service for the supplied configuration. It panics
// when the Service cannot be built; use TryNewService to get the error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service for the supplied configuration.
// Defaults are applied to a copy of conf before validation.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := *conf
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	role := transport.RoleOf(&cfg)
	if role == transport.RoleRemote && deps.Applier == nil {
		return nil, errspkg.ErrApplierRequired
	}

	s := &Service{
		Conf:        &cfg,
		id:          ids.NewInstanceID(string(role)),
		role:        role,
		startedAt:   time.Now(),
		handshake:   newHandshake(),
		navigation:  &navigation{},
		resources:   newResourceTracker(),
		onUnhandled: deps.OnUnhandledError,
	}
	s.Logger = log.With(loggingpkg.LogFields{"endpoint": s.id})
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.Logger.Info("Creating sync service", loggingpkg.LogFields{
		"role":      string(role),
		"transport": cfg.Transport,
		"config":    cfg,
	})

	if err := s.build(deps); err != nil {
		s.cancel()
		_ = s.teardown()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(deps ServiceDependencies) error {
	cfg := s.Conf

	if cfg.MetricsEnabled {
		s.metrics = NewMetrics(deps.MetricsRegisterer)
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if cfg.MetricsPort > 0 {
			s.RegisterHTTPHandler(cfg.MetricsPort, "/metrics", metricsHandler(deps.MetricsRegisterer))
		}
	}

	channel := deps.Channel
	if channel == nil {
		registry := deps.TransportRegistry
		if registry == nil {
			registry = transport.DefaultRegistry
		}
		built, err := registry.Build(s.ctx, cfg, loggingpkg.NewWatermillAdapter(s.Logger))
		if err != nil {
			return fmt.Errorf("build %s transport: %w", cfg.Transport, err)
		}
		channel = built
	}
	s.channel = channel

	var observer ipc.Observer
	if s.metrics != nil {
		observer = s.metrics
	}
	mux, err := ipc.New(channel, ipc.Options{Logger: s.Logger, Observer: observer})
	if err != nil {
		return err
	}
	s.mux = mux

	dispatcherOpts := dispatcher.Options{
		Name:             string(s.role),
		Logger:           s.Logger,
		OnUnhandledError: s.onDispatcherError,
	}
	if s.metrics != nil {
		dispatcherOpts.OnWorkCompleted = s.metrics.ObserveWork
	}
	s.dispatcher = dispatcher.New(s.ctx, dispatcherOpts)

	peerOpts := interop.Options{
		Context:    s.ctx,
		Bus:        mux,
		Dispatcher: s.dispatcher,
		Logger:     s.Logger,
		Timeout:    cfg.InvokeTimeout,
	}
	if s.metrics != nil {
		peerOpts.Observer = s.metrics
	}
	peer, err := interop.New(peerOpts)
	if err != nil {
		return err
	}
	s.peer = peer

	s.mux.On(EventError, s.onPeerError)

	hooks := MetricsHooks(s.metrics).Merge(deps.Hooks)

	switch s.role {
	case transport.RoleHost:
		return s.buildHost(deps, hooks)
	default:
		return s.buildRemote(deps, hooks)
	}
}

func (s *Service) buildHost(deps ServiceDependencies, hooks BatchHooks) error {
	producer, err := render.NewProducer(render.ProducerOptions{
		Context:           s.ctx,
		Dispatcher:        s.dispatcher,
		Sender:            s.mux,
		Logger:            s.Logger,
		FirstSequence:     s.Conf.FirstSequence,
		MaxPendingBatches: s.Conf.MaxPendingBatches,
		Hooks:             hooks,
		Tracer:            deps.Tracer,
	})
	if err != nil {
		return err
	}
	s.producer = producer

	if deps.Startup != nil {
		builder := &ApplicationBuilder{}
		deps.Startup.Configure(builder)
		if err := builder.err(); err != nil {
			return fmt.Errorf("configure startup: %w", err)
		}
		s.roots = builder.roots
	}

	if err := s.registerLocationTracking(); err != nil {
		return err
	}
	if deps.EventHandler != nil {
		if err := s.registerEventHandler(deps.EventHandler); err != nil {
			return err
		}
	}

	s.mux.On(render.EventRenderCompleted, s.onRenderCompleted)
	s.listenForInit()
	return nil
}

func (s *Service) buildRemote(deps ServiceDependencies, hooks BatchHooks) error {
	consumer, err := render.NewConsumer(render.ConsumerOptions{
		Sender:        s.mux,
		Applier:       deps.Applier,
		Logger:        s.Logger,
		FirstSequence: s.Conf.FirstSequence,
		Hooks:         hooks,
		OnFatal:       func(err *errspkg.FatalError) { s.reportUnhandled(err) },
		Tracer:        deps.Tracer,
	})
	if err != nil {
		return err
	}
	s.consumer = consumer

	if attacher, ok := deps.Applier.(RootAttacher); ok {
		if err := s.registerRootAttacher(attacher); err != nil {
			return err
		}
	}
	if nav, ok := deps.Applier.(Navigator); ok {
		if err := s.registerNavigator(nav); err != nil {
			return err
		}
	}

	s.mux.On(render.EventRenderBatch, s.onRenderBatch)
	return nil
}

// onRenderCompleted receives RenderCompleted(seq, errorOrNull) on the
// multiplexer goroutine and hands it to the producer on the dispatcher.
func (s *Service) onRenderCompleted(args ipc.Args) {
	seq, err := args.Int64(0)
	if err != nil {
		s.reportUnhandled(fmt.Errorf("malformed %s: %w", render.EventRenderCompleted, err))
		return
	}
	errMsg, err := args.OptionalString(1)
	if err != nil {
		s.reportUnhandled(fmt.Errorf("malformed %s: %w", render.EventRenderCompleted, err))
		return
	}
	if err := s.dispatcher.Post(func() error {
		return s.acknowledge(seq, errMsg)
	}); err != nil {
		s.Logger.Debug("Acknowledgement dropped", loggingpkg.LogFields{"seq": seq, "error": err.Error()})
	}
}

// onRenderBatch receives RenderBatch(seq, payload) on the multiplexer
// goroutine and applies it on the dispatcher.
func (s *Service) onRenderBatch(args ipc.Args) {
	seq, err := args.Int64(0)
	if err != nil {
		s.reportUnhandled(fmt.Errorf("malformed %s: %w", render.EventRenderBatch, err))
		return
	}
	payload, err := args.Bytes(1)
	if err != nil {
		s.reportUnhandled(fmt.Errorf("malformed %s: %w", render.EventRenderBatch, err))
		return
	}
	if err := s.dispatcher.Post(func() error {
		err := s.consumer.Apply(s.ctx, seq, payload)
		var fatal *errspkg.FatalError
		if errors.As(err, &fatal) {
			// Reported once through OnFatal when it latched.
			return nil
		}
		return err
	}); err != nil {
		s.Logger.Debug("Render batch dropped", loggingpkg.LogFields{"seq": seq, "error": err.Error()})
	}
}

// UpdateDisplay produces one render batch on the host. It may be called from
// any goroutine; the batch is numbered on the dispatcher. The future
// resolves with the sequence number once the remote applied the batch.
func (s *Service) UpdateDisplay(payload []byte) *future.Future[int64] {
	if s.role != transport.RoleHost {
		return future.Rejected[int64](errspkg.ErrWrongRole)
	}
	if s.dispatcher.CheckAccess() {
		return s.producer.Produce(payload)
	}
	result := future.New[int64]()
	dispatcher.InvokeAsync(s.dispatcher, func() (struct{}, error) {
		s.producer.Produce(payload).Then(func(seq int64, err error) {
			if err != nil {
				result.Reject(err)
				return
			}
			result.Resolve(seq)
		})
		return struct{}{}, nil
	}).Then(func(_ struct{}, err error) {
		// Never scheduled: the dispatcher stopped or was cancelled.
		if err != nil {
			result.Reject(err)
		}
	})
	return result
}

func (s *Service) onDispatcherError(err error) {
	if s.metrics != nil {
		s.metrics.RecordUnhandled(err)
	}
	if s.onUnhandled != nil {
		s.onUnhandled(err)
	}
}

// reportUnhandled routes an error raised outside dispatcher work.
func (s *Service) reportUnhandled(err error) {
	s.Logger.Error("Unhandled error", err, loggingpkg.LogFields{"category": string(errspkg.Classify(err))})
	if s.metrics != nil {
		s.metrics.RecordUnhandled(err)
	}
	if s.onUnhandled == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("Unhandled error hook panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	s.onUnhandled(err)
}

// Start serves the metrics and status endpoints and dispatches inbound
// events until ctx is cancelled or the Service is closed.
func (s *Service) Start(ctx context.Context) error {
	s.StartStatusServer()
	if err := s.startHTTPServers(); err != nil {
		return err
	}
	return multiplexerRun(s.mux, ctx)
}

// Close tears the Service down: in-flight writes are cancelled and the
// channel is closed, then pending batches and calls are cancelled and the
// dispatcher stops. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.Logger.Info("Closing sync service", nil)
		s.cancel()
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

// teardown expects s.ctx to be cancelled already. The channel is closed
// before waiting on the dispatcher so that work blocked in a transport write
// returns.
func (s *Service) teardown() error {
	var errs []error
	switch {
	case s.mux != nil:
		errs = append(errs, s.mux.Close())
	case s.channel != nil:
		errs = append(errs, s.channel.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.peer != nil {
		errs = append(errs, s.peer.Close())
	}
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	errs = append(errs, s.stopHTTPServers())
	return errors.Join(errs...)
}

// ID identifies this endpoint in logs and status output.
func (s *Service) ID() string { return s.id }

// Role reports which end of the pair this Service plays.
func (s *Service) Role() transport.Role { return s.role }

// Dispatcher returns the Service's sync context.
func (s *Service) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Multiplexer returns the event multiplexer, for application events.
func (s *Service) Multiplexer() *ipc.Multiplexer { return s.mux }

// Peer returns the remote call endpoint.
func (s *Service) Peer() *interop.Peer { return s.peer }

// Producer returns the render batch producer, or nil on the remote.
func (s *Service) Producer() *render.Producer { return s.producer }

// Consumer returns the render batch consumer, or nil on the host.
func (s *Service) Consumer() *render.Consumer { return s.consumer }

// Metrics returns the collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *Metrics { return s.metrics }

func metricsHandler(registerer prometheus.Registerer) http.Handler {
	if gatherer, ok := registerer.(prometheus.Gatherer); ok && registerer != nil {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() error {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
		go func(addr string) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr)
	}
	s.httpServers = nil
	return nil
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
