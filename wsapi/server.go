package wsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/progress"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// healthWire is the /healthz JSON body, spec.md section 4.4's pool-health
// fields plus an optional probe error string in place of the Go error
// value dbpool.Health carries.
type healthWire struct {
	Size           int32   `json:"size"`
	Idle           int32   `json:"idle"`
	UtilizationPct float64 `json:"utilization_pct"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
}

// SourceOwners resolves which user owns a source, so the WebSocket handler
// can reject a subscriber watching a source that isn't theirs.
type SourceOwners interface {
	OwnerUserID(ctx context.Context, sourceID uuid.UUID) (uuid.UUID, error)
}

// Server is the C5 HTTP/WebSocket transport: a health check plus the
// per-source progress stream of spec.md section 4.5.
type Server struct {
	router    chi.Router
	pool      *dbpool.Pool
	tracker   *progress.Tracker
	owners    SourceOwners
	verifier  TokenVerifier
	heartbeat time.Duration
	logger    *zap.Logger
}

// Config bundles Server's dependencies.
type Config struct {
	Pool              *dbpool.Pool
	Tracker           *progress.Tracker
	Owners            SourceOwners
	Verifier          TokenVerifier
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewServer builds the router: CORS, request logging/recovery (the
// teacher has no HTTP surface, so this middleware stack is grounded on
// go-chi's own documented idiomatic defaults), /healthz, and the
// WebSocket progress endpoint.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pool:      cfg.Pool,
		tracker:   cfg.Tracker,
		owners:    cfg.Owners,
		verifier:  cfg.Verifier,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/sources/{sourceID}/sync/progress/ws", s.handleProgressWS)

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := s.pool.Probe(ctx, 2*time.Second)
	status := http.StatusOK
	wire := healthWire{
		Size:           health.Size,
		Idle:           health.Idle,
		UtilizationPct: health.UtilizationPct,
		ResponseTimeMs: health.ResponseTimeMs,
	}
	if health.ResponseTimeErr != nil {
		status = http.StatusServiceUnavailable
		wire.Error = health.ResponseTimeErr.Error()
		s.logger.Warn("pool health probe degraded", zap.Error(health.ResponseTimeErr))
	}

	body, err := marshalEnvelope(envelope{Type: "health", Data: wire})
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
