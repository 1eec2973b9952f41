// Package api exposes chatvault's Loader, DAO and Merge services over
// HTTP/JSON using go-chi/chi (spec §6.2: "no repo in the example pack
// hand-writes a grpc.Server; chi is the teacher's own way of exposing
// store operations to a caller").
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/chatvault/internal/config"
	"github.com/wesm/chatvault/internal/loader"
	"github.com/wesm/chatvault/internal/memstore"
	"github.com/wesm/chatvault/internal/model"
	"github.com/wesm/chatvault/internal/store"
)

// stagedDataset is one in-memory dataset a loader produced, held
// server-side under the loader's name until the caller discards it
// (DELETE /loader/{name}); meanwhile /merge/analyze and /merge/merge
// can read it as their slave side (slave_key).
type stagedDataset struct {
	store *memstore.Store
	ds    model.DatasetUUID
}

// Server is the HTTP API server wrapping one durable store and one
// loader registry.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	loaders *loader.Registry
	logger  *slog.Logger
	broker  *promptBroker

	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter

	mu     sync.Mutex
	staged map[string]*stagedDataset
}

// NewServer wires a durable store, a loader registry and config into
// an HTTP API server.
func NewServer(cfg *config.Config, st *store.Store, loaders *loader.Registry, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		loaders: loaders,
		logger:  logger,
		broker:  newPromptBroker(),
		staged:  make(map[string]*stagedDataset),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(rateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)
	r.Get("/prompts", s.handleNextPrompt)
	r.Post("/prompts/{id}/answer", s.handleAnswerPrompt)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/loader/{name}", func(r chi.Router) {
			r.Post("/load", s.handleLoaderLoad)
			r.Get("/files", s.handleLoaderFiles)
			r.Delete("/", s.handleLoaderClose)
		})
		r.Post("/loader/ensure-same", s.handleEnsureSame)

		r.Route("/dao", func(r chi.Router) {
			r.Get("/datasets", s.handleDatasets)
			r.Get("/datasets/{ds}/users", s.handleUsers)
			r.Get("/datasets/{ds}/chats", s.handleChats)
			r.Get("/datasets/{ds}/chats/{chat}/messages", s.handleMessages)
		})

		r.Post("/merge/analyze", s.handleMergeAnalyze)
		r.Post("/merge/merge", s.handleMergeMerge)
	})

	return r
}

// Start begins listening for HTTP requests. Returns an error if the
// security posture is invalid (spec-carried teacher invariant: refuse
// to bind non-loopback without an api_key or an explicit override).
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication — set [server] api_key in config.toml")
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // /prompts long-polls
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("http request",
				"method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "bytes", ww.BytesWritten(),
				"duration", time.Since(start), "request_id", chimw.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(bearerOrAPIKeyHeader(r)), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
