package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"3tcapital/ms_facturacion_afip/internal/adapters/http/authorization"
	"3tcapital/ms_facturacion_afip/internal/adapters/http/credentials"
	"3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	"3tcapital/ms_facturacion_afip/internal/adapters/http/salespoint"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/middleware"
)

// Server wraps the HTTP server that exposes the fiscal API.
type Server struct {
	cfg        config.AppConfig
	log        *slog.Logger
	httpServer *http.Server
	auth       *middleware.JWTAuthenticator
}

// Options configures the server. Handler groups left nil are not routed.
type Options struct {
	Config         config.AppConfig
	Logger         *slog.Logger
	HealthHandler  *health.Handler
	Credentials    *credentials.Handler
	SalesPoints    *salespoint.Handler
	Authorizations *authorization.Handler
	// Metrics is served on Config.Metrics.Path when set.
	Metrics http.Handler
}

// New builds the router and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	auth, err := middleware.NewJWTAuthenticator(opts.Config.Auth, opts.Logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(auth.Middleware)
	r.Use(middleware.RequestLogger(opts.Logger))

	r.Get("/health", opts.HealthHandler.Status)
	if opts.Metrics != nil {
		path := opts.Config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}

	r.Route("/api/v1/fiscal", func(r chi.Router) {
		r.Use(middleware.RequestTimeout(opts.Config.HTTP.RequestTimeout))

		r.Get("/health", opts.HealthHandler.Fiscal)

		if h := opts.Credentials; h != nil {
			r.Get("/config", h.GetConfig)
			r.Put("/config", h.PutConfig)
			r.Post("/certificate/validate", h.ValidateCertificate)
			r.Post("/ticket", h.RequestTicket)
		}

		if h := opts.SalesPoints; h != nil {
			r.Get("/sales-points", h.List)
			r.Post("/sales-points/sync", h.Sync)
			r.Put("/sales-points/{number}", h.Upsert)
		}

		if h := opts.Authorizations; h != nil {
			r.Post("/authorizations", h.Authorize)
			r.Get("/documents/{id}", h.GetDocument)
			r.Get("/sales-points/{pv}/document-types/{type}/last", h.LastNumber)
			r.Get("/sales-points/{pv}/document-types/{type}/documents/{number}", h.GetDocumentByNumber)
			r.Get("/sales-points/{pv}/document-types/{type}/documents/{number}/afip", h.Consult)
		}
	})

	srv := &http.Server{
		Addr:         opts.Config.HTTP.Address(),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTP.ReadTimeout,
		WriteTimeout: opts.Config.HTTP.WriteTimeout,
		IdleTimeout:  opts.Config.HTTP.IdleTimeout,
	}

	return &Server{cfg: opts.Config, log: opts.Logger, httpServer: srv, auth: auth}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is canceled, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx := context.Background()
		if timeout := s.cfg.HTTP.ShutdownTimeout; timeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, timeout)
			defer cancel()
		}
		s.log.Info("HTTP server shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Close stops the JWKS refresher.
func (s *Server) Close() {
	s.auth.Close()
}
