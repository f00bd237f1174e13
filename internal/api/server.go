package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/registry"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Predictions is the registry surface served on the performer.
type Predictions interface {
	Create(ctx context.Context, req registry.CreateRequest) (model.Prediction, error)
	List(ctx context.Context) ([]model.Prediction, error)
	Get(ctx context.Context, id string) (model.Prediction, error)
}

// Validator checks a published proof and returns the vote.
type Validator interface {
	Validate(ctx context.Context, proofCID string) model.ValidationVote
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	predictions Predictions
	validator   Validator
	logger      *slog.Logger
	engine      *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithPredictions mounts the prediction routes.
func WithPredictions(p Predictions) Option {
	return func(s *Server) { s.predictions = p }
}

// WithValidator mounts POST /api/validate.
func WithValidator(v Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server. Only routes whose dependency was given are
// registered; /healthz and /metrics are always present.
func New(opts ...Option) *Server {
	srv := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(srv)
	}
	srv.engine = gin.New()
	srv.engine.Use(gin.Recovery(), requestLogger(srv.logger), corsMiddleware(), limitBody())
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	if s.predictions != nil {
		api.POST("/predictions", s.handleCreatePrediction)
		api.GET("/predictions", s.handleListPredictions)
		api.GET("/predictions/:id", s.handleGetPrediction)
	}
	if s.validator != nil {
		api.POST("/validate", s.handleValidate)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers. The allowed origin is configurable via the
// CORS_ORIGIN environment variable; defaults to "*" for development.
func corsMiddleware() gin.HandlerFunc {
	origin := os.Getenv("CORS_ORIGIN")
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPredictionNotFound), errors.Is(err, model.ErrProofNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicatePrediction), errors.Is(err, model.ErrRegistryConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, model.ErrOracleUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
