package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/agents"
	"github.com/jonathan/admissions-engine/internal/llm"
	"github.com/jonathan/admissions-engine/internal/server/ratelimit"
	"github.com/jonathan/admissions-engine/internal/types"
)

// Store is the persistence surface the API needs. *db.DB satisfies it.
type Store interface {
	CreateRun(ctx context.Context, name string) (*types.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, to types.RunStatus) error
	SaveRuleSet(ctx context.Context, rs *types.RuleSet) (uuid.UUID, error)
	BindRuleSet(ctx context.Context, runID, ruleSetID uuid.UUID) error
	CreateApplicant(ctx context.Context, runID uuid.UUID, folderName, displayName string, docs []types.Document) (*types.Applicant, error)
	GetApplicant(ctx context.Context, applicantID uuid.UUID) (*types.Applicant, error)
	ListApplicants(ctx context.Context, runID uuid.UUID) ([]types.Applicant, error)
	ListAgentResults(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error)
	ListGatingResults(ctx context.Context, runID uuid.UUID) ([]types.GatingResult, error)
	ListRankingResults(ctx context.Context, runID uuid.UUID) ([]types.RankingResult, error)
	ListManualDecisions(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]types.ManualDecision, error)
	ListComparisons(ctx context.Context, runID uuid.UUID) ([]types.PairwiseComparison, error)
	SetManualDecision(ctx context.Context, runID, applicantID uuid.UUID, decision *types.Decision) error
	ListRunLogs(ctx context.Context, runID uuid.UUID) ([]agents.LogEntry, error)
}

// Runner drives run execution. *pipeline.Orchestrator satisfies it.
type Runner interface {
	StartRun(ctx context.Context, runID uuid.UUID) error
	Rerank(ctx context.Context, runID uuid.UUID) error
	Cancel(runID uuid.UUID)
}

// Config holds server configuration
type Config struct {
	ListenAddr string
	// RateLimit overrides the environment-driven limiter config when set.
	RateLimit *ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	store       Store
	runner      Runner
	llm         llm.Client // nil disables rule-set import from URL
	convLog     agents.ConversationLogger
	validate    *validator.Validate
	logger      *slog.Logger
	rateLimiter *ratelimit.Limiter
}

// New creates a new server instance
func New(store Store, runner Runner, llmClient llm.Client, convLog agents.ConversationLogger, logger *slog.Logger, cfg Config) *Server {
	if convLog == nil {
		convLog = agents.NopLogger{}
	}
	s := &Server{
		store:    store,
		runner:   runner,
		llm:      llmClient,
		convLog:  convLog,
		validate: validator.New(),
		logger:   logger,
	}

	rlConfig := cfg.RateLimit
	if rlConfig == nil {
		rlConfig = ratelimit.LoadConfig()
	}
	s.rateLimiter = ratelimit.NewLimiter(rlConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Run lifecycle
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/ruleset", s.handleBindRuleSet)
	mux.HandleFunc("POST /runs/{id}/applicants", s.handleAddApplicant)
	mux.HandleFunc("POST /runs/{id}/uploaded", s.handleMarkUploaded)
	mux.HandleFunc("POST /runs/{id}/start", s.handleStartRun)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)

	// Run outcomes
	mux.HandleFunc("GET /runs/{id}/status", s.handleRunStatus)
	mux.HandleFunc("GET /runs/{id}/report", s.handleReport)
	mux.HandleFunc("GET /runs/{id}/logs", s.handleRunLogs)

	// Manual overrides
	mux.HandleFunc("PUT /applicants/{id}/decision", s.handleSetDecision)

	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// ServeHTTP dispatches through the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	s.logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	s.rateLimiter.Stop()
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request with method, path, status and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// withRateLimit rejects requests over the per-client endpoint limit.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())+1))
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID extracts the client identifier from the request, preferring the
// proxy-set forwarded address over the socket peer.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps a typed error to its HTTP status and writes it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}

// validationError converts the first validator failure into a 400 response.
func (s *Server) validationError(w http.ResponseWriter, err error) {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		s.writeError(w, &ErrValidation{Field: fe.Field(), Message: "failed " + fe.Tag() + " validation"})
		return
	}
	s.errorResponse(w, http.StatusBadRequest, err.Error())
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
