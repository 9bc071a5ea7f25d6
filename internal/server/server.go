// Package server is a self-contained stand-in for the gateway: an admin API
// compatible with the subset gatewayctl uses and a data plane that routes
// requests the way the stored routes describe.
package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/adapters/apisix"
	"github.com/nulzo/gatewayctl/internal/server/middleware"
	"github.com/nulzo/gatewayctl/internal/server/validator"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// DefaultVersion is advertised in the Server header.
const DefaultVersion = "3.9.1"

type Config struct {
	AdminKey string `mapstructure:"admin_key"`
	// Version is reported as "APISIX/<version>". Versions below 3.0 ignore
	// label filters, like the real control plane.
	Version string `mapstructure:"version"`
	// KeyHeader is where the data plane looks for consumer keys.
	KeyHeader string `mapstructure:"key_header"`
	// AdminRPS throttles the admin API per client; zero disables it.
	AdminRPS   float64 `mapstructure:"admin_rps"`
	AdminBurst int     `mapstructure:"admin_burst"`
	Env        string  `mapstructure:"env"`
}

type Server struct {
	admin     *gin.Engine
	proxy     *gin.Engine
	store     *Store
	config    Config
	logger    *zap.Logger
	labels    bool
	transport http.RoundTripper
}

func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.KeyHeader == "" {
		cfg.KeyHeader = "apikey"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	validator.InitValidator()

	s := &Server{
		admin:     newEngine(logger, "admin"),
		proxy:     newEngine(logger, "proxy"),
		store:     NewStore(),
		config:    cfg,
		logger:    logger,
		labels:    apisix.SupportsLabelQuery(cfg.Version),
		transport: http.DefaultTransport,
	}

	s.SetupRoutes()
	return s
}

func newEngine(logger *zap.Logger, plane string) *gin.Engine {
	engine := gin.New()
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(otelgin.Middleware("gatewaysim-" + plane))
	engine.Use(middleware.Logger(logger, plane))
	return engine
}

// AdminHandler serves the control-plane API.
func (s *Server) AdminHandler() http.Handler { return s.admin }

// ProxyHandler serves the data plane.
func (s *Server) ProxyHandler() http.Handler { return s.proxy }

// Store exposes the state for inspection and fault injection.
func (s *Server) Store() *Store { return s.store }
