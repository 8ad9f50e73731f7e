// Package server exposes the HTTP surface: job submission, status polling,
// SSE streaming, stored records, and the metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/c360studio/docscope/config"
	"github.com/c360studio/docscope/evaluation"
	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/faults"
	"github.com/c360studio/docscope/jobs"
	"github.com/c360studio/docscope/metrics"
	"github.com/c360studio/docscope/remediation"
	"github.com/c360studio/docscope/store"
)

// Deps are the collaborators the server wires together.
type Deps struct {
	Bus         *events.Bus
	Store       store.Store
	Metrics     *metrics.Metrics
	Evaluation  *evaluation.Orchestrator
	Remediation *remediation.Orchestrator
	Logger      *slog.Logger
}

// evalMeta carries submission details the terminal hook needs to build the
// stored record.
type evalMeta struct {
	url    string
	branch string
	sha    string
}

type remMeta struct {
	evaluationID string
}

// Server is the HTTP front end.
type Server struct {
	cfg    *config.Config
	bus    *events.Bus
	store  store.Store
	met    *metrics.Metrics
	logger *slog.Logger

	evalOrch *evaluation.Orchestrator
	remOrch  *remediation.Orchestrator
	evalJobs *jobs.Manager
	remJobs  *jobs.Manager

	mu          sync.Mutex
	evalMeta    map[string]evalMeta
	remMeta     map[string]remMeta
	remFollowUp map[string]string

	router chi.Router
	http   *http.Server
}

// New builds the server and starts its job managers.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:         cfg,
		bus:         deps.Bus,
		store:       deps.Store,
		met:         deps.Metrics,
		logger:      logger,
		evalOrch:    deps.Evaluation,
		remOrch:     deps.Remediation,
		evalMeta:    make(map[string]evalMeta),
		remMeta:     make(map[string]remMeta),
		remFollowUp: make(map[string]string),
	}

	s.evalJobs = jobs.NewManager("evaluation",
		cfg.Evaluation.QueueCapacity, cfg.Evaluation.Workers, deps.Bus,
		jobs.WithLogger(logger),
		jobs.WithJobTimeout(cfg.Evaluation.JobTimeout),
		jobs.WithTerminalHook(s.persistEvaluation))
	s.remJobs = jobs.NewManager("remediation",
		cfg.Remediation.QueueCapacity, cfg.Remediation.Workers, deps.Bus,
		jobs.WithLogger(logger),
		jobs.WithTerminalHook(s.persistRemediation))
	s.evalJobs.Start()
	s.remJobs.Start()

	if s.met != nil {
		s.met.WatchManager("evaluation", s.evalJobs)
		s.met.WatchManager("remediation", s.remJobs)
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/evaluate/batch", s.handleEvaluateBatch)
		r.Get("/evaluate/{id}", s.handleEvaluateStatus)
		r.Delete("/evaluate/{id}", s.handleEvaluateDelete)
		r.Get("/evaluate/{id}/stream", s.handleEvaluateStream)

		r.Get("/evaluations/{id}", s.handleEvaluationRecord)
		r.Post("/evaluations/import", s.handleEvaluationImport)

		r.Post("/remediation/execute", s.handleRemediationExecute)
		r.Get("/remediation/{id}", s.handleRemediationStatus)
		r.Get("/remediation/{id}/patch", s.handleRemediationPatch)
		r.Delete("/remediation/{id}", s.handleRemediationDelete)
		r.Post("/remediation/{id}/evaluate", s.handleRemediationEvaluate)
		r.Get("/remediation/{id}/stream", s.handleRemediationStream)
	})

	if s.met != nil {
		r.Handle("/metrics", s.met.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Router returns the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.router,
	}
	s.logger.Info("HTTP server listening", "addr", s.cfg.Server.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener and drains the job managers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.evalJobs.Stop()
	s.remJobs.Stop()
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorInfo `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := faults.HTTPStatus(faults.CategoryOf(err))
	code := faults.CodeOf(err)
	message := err.Error()
	if f := faults.As(err); f != nil {
		message = f.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorBody{errorInfo{Code: code, Message: message}})
}

func (s *Server) notFound(w http.ResponseWriter, what string) {
	s.writeError(w, faults.New(faults.CategoryNotFound, faults.CodeNotFound, "unknown "+what))
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeError(w, faults.New(faults.CategoryInvalid, faults.CodeInvalidRequest, message))
}
