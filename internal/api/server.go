package api

import (
	"net/http"
	"time"

	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/domain/validation"
	"github.com/charging-platform/ocpi-node/internal/listing"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/charging-platform/ocpi-node/internal/resolver"
	"github.com/charging-platform/ocpi-node/internal/storage"
	"github.com/charging-platform/ocpi-node/internal/store"
	"github.com/charging-platform/ocpi-node/internal/transport/websocket"
	"github.com/go-chi/chi/v5"
)

// Options HTTP层参数。MaxWait 是 wait=true 时同步等待异步结果的上限，应小于服务的写超时。
type Options struct {
	Limits        listing.Limits
	MaxBodyBytes  int64
	Versions      []ocpi.Version
	WebSocketPath string
	MaxWait       time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Limits:        listing.Limits{Default: 50, Max: 500},
		MaxBodyBytes:  1 << 20,
		Versions:      ocpi.SupportedVersions,
		WebSocketPath: "/ws/commands",
		MaxWait:       55 * time.Second,
	}
}

// Dependencies 服务依赖。Hub、Endpoints 和 Metrics 可以为空。
type Dependencies struct {
	Store      *store.Store
	Dispatcher *command.Dispatcher
	Initiator  *command.Initiator
	Endpoints  storage.EndpointStorage
	Hub        *websocket.Hub
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// Server OCPI接口、回调接收和内部管理接口
type Server struct {
	options    Options
	store      *store.Store
	resolver   *resolver.Resolver
	dispatcher *command.Dispatcher
	initiator  *command.Initiator
	endpoints  storage.EndpointStorage
	hub        *websocket.Hub
	validator  *validation.Validator
	metrics    *metrics.Metrics
	logger     *logger.Logger
	startTime  time.Time
}

// NewServer 创建HTTP服务
func NewServer(opts Options, deps Dependencies) *Server {
	defaults := DefaultOptions()
	if opts.Limits.Default <= 0 {
		opts.Limits = defaults.Limits
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if len(opts.Versions) == 0 {
		opts.Versions = defaults.Versions
	}
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = defaults.WebSocketPath
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaults.MaxWait
	}

	return &Server{
		options:    opts,
		store:      deps.Store,
		resolver:   resolver.New(deps.Store, deps.Store),
		dispatcher: deps.Dispatcher,
		initiator:  deps.Initiator,
		endpoints:  deps.Endpoints,
		hub:        deps.Hub,
		validator:  validation.NewValidator(),
		metrics:    deps.Metrics,
		logger:     logger.OrNop(deps.Logger).With("http-api"),
		startTime:  time.Now(),
	}
}

// Routes 构建路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Route("/ocpi/{version}", func(r chi.Router) {
		r.Use(s.versionCtx)

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", s.ListLocations)
			r.Get("/{location_id}", s.GetLocation)
			r.Put("/{location_id}", s.PutLocation)
			r.Patch("/{location_id}", s.PatchLocation)
			r.Delete("/{location_id}", s.DeleteLocation)

			r.Get("/{location_id}/{evse_uid}", s.GetEVSE)
			r.Put("/{location_id}/{evse_uid}", s.PutEVSE)
			r.Patch("/{location_id}/{evse_uid}", s.PatchEVSE)
			r.Delete("/{location_id}/{evse_uid}", s.DeleteEVSE)

			r.Get("/{location_id}/{evse_uid}/{connector_id}", s.GetConnector)
			r.Put("/{location_id}/{evse_uid}/{connector_id}", s.PutConnector)
			r.Patch("/{location_id}/{evse_uid}/{connector_id}", s.PatchConnector)
			r.Delete("/{location_id}/{evse_uid}/{connector_id}", s.DeleteConnector)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", s.ListTokens)
			r.Get("/{country_code}/{party_id}/{token_uid}", s.GetToken)
			r.Put("/{country_code}/{party_id}/{token_uid}", s.PutToken)
			r.Patch("/{country_code}/{party_id}/{token_uid}", s.PatchToken)
			r.Delete("/{country_code}/{party_id}/{token_uid}", s.DeleteToken)
		})

		r.Post("/commands/{command}/{command_id}", s.ReceiveResult)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/commands/{command}", s.InitiateCommand)

		r.Get("/parties/{country_code}/{party_id}/endpoints", s.GetEndpoints)
		r.Put("/parties/{country_code}/{party_id}/endpoints", s.PutEndpoints)
		r.Delete("/parties/{country_code}/{party_id}/endpoints", s.DeleteEndpoints)
	})

	if s.hub != nil {
		r.Handle(s.options.WebSocketPath, s.hub)
	}

	r.Get("/health", s.Health)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFault(w, ocpi.NotFound(ocpi.StatusClientError, "Unknown endpoint!"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFault(w, &ocpi.Fault{HTTPStatus: http.StatusMethodNotAllowed, StatusCode: ocpi.StatusClientError, Description: "Method not allowed!"})
	})
	return r
}
