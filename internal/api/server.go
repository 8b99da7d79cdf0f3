package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/orchestrator"
)

// Server exposes the orchestrator over REST and WebSocket.
type Server struct {
	orch   *orchestrator.Orchestrator
	cfg    *config.Config
	logger *slog.Logger

	router chi.Router
	ws     *WSHandler
	httpd  *http.Server
	poller *Poller
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPoller attaches a PR status poller whose lifecycle follows the
// server's.
func WithPoller(p *Poller) Option {
	return func(s *Server) { s.poller = p }
}

// New builds the server around an initialized orchestrator.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		cfg:    orch.Config(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ws = NewWSHandler(orch.Publisher(), s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Get("/logs", s.handleGetLogs)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/pause", s.handlePauseTask)
				r.Post("/resume", s.handleResumeTask)
				r.Get("/gates", s.handleListGates)
				r.Post("/gates/{name}/approve", s.handleApproveGate)
				r.Post("/gates/{name}/reject", s.handleRejectGate)
			})
		})

		r.Get("/events/ws", s.ws.ServeHTTP)
	})

	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// logRequests records method, path, status, and latency per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// Start listens on the configured address and serves until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpd = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.poller != nil {
		s.poller.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpd.Serve(ln)
	}()
	s.logger.Info("api server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown drains connections, stops the poller, and closes websocket
// clients.
func (s *Server) Shutdown() error {
	if s.poller != nil {
		s.poller.Stop()
	}
	s.ws.Close()
	if s.httpd == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpd.Shutdown(ctx)
}
