// Package web serves the browser chat: login, the chat page and the JSON
// API behind it.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/logger"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/security"
	"github.com/tainanafeng/math-coach/internal/tutor"
	"github.com/tainanafeng/math-coach/internal/upload"
)

// ChatService runs a tutoring turn.
type ChatService interface {
	Ask(ctx context.Context, username, input string) (*tutor.Answer, error)
}

// Store is the read side of the conversation store used by the API.
type Store interface {
	ReadAll(ctx context.Context, username string) ([]memory.Message, error)
	GetSummary(ctx context.Context, username string) (*memory.Summary, error)
	GetCursor(ctx context.Context, username string) (int64, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Accounts      *security.Accounts
	Sessions      *security.SessionManager
	Tutor         ChatService
	Store         Store
	Uploads       *upload.Registry
	MaxUploadMB   int
	SecureCookies bool
	Logger        *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	accounts   *security.Accounts
	sessions   *security.SessionManager
	tutor      ChatService
	store      Store
	uploads    *upload.Registry
	maxUpload  int64
	secure     bool
	log        *zap.Logger
	pages      *pages
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a server from opts.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	uploads := opts.Uploads
	if uploads == nil {
		uploads = upload.NewRegistry()
	}
	maxMB := opts.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	s := &Server{
		accounts:  opts.Accounts,
		sessions:  opts.Sessions,
		tutor:     opts.Tutor,
		store:     opts.Store,
		uploads:   uploads,
		maxUpload: int64(maxMB) << 20,
		secure:    opts.SecureCookies,
		log:       log.Named("web"),
		pages:     mustLoadPages(),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/me", s.handleMe)
			r.Get("/messages", s.handleMessages)
			r.Get("/summary", s.handleSummary)
			r.Post("/chat", s.handleChat)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// No WriteTimeout: a turn may run several model and tool calls.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := chiMiddleware.GetReqID(r.Context())
		r = r.WithContext(logger.WithRequestID(r.Context(), reqID))

		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
