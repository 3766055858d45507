package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/threadcast/threadcast/plugin/generation"
	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/metrics"
	"github.com/threadcast/threadcast/server/profile"
	apiv1 "github.com/threadcast/threadcast/server/router/api/v1"
	"github.com/threadcast/threadcast/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	httpServer *http.Server
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	backend, err := NewBackend(profile)
	if err != nil {
		return nil, err
	}
	return NewServerWithBackend(ctx, profile, store, backend), nil
}

// NewServerWithBackend wires the HTTP surface around an already constructed backend.
func NewServerWithBackend(_ context.Context, profile *profile.Profile, store *store.Store, backend generation.Backend) *Server {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(requestLogger)
	s.echoServer = e

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	apiv1.NewAPIV1Service(profile, store, auth.NewTokenService(profile.AuthSecret), backend).RegisterRoutes(e)

	s.httpServer = &http.Server{
		Addr:              profile.Address(),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NewBackend builds the generation backend named by the profile.
func NewBackend(profile *profile.Profile) (generation.Backend, error) {
	switch profile.AIProvider {
	case "openai":
		return generation.NewOpenAIBackend(profile.AIBaseURL, profile.AIAPIKey, profile.AIModel), nil
	case "langchain", "":
		return generation.NewLangchainBackend(profile.AIBaseURL, profile.AIAPIKey, profile.AIModel)
	default:
		return nil, errors.Errorf("unknown ai provider %q", profile.AIProvider)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", slog.String("addr", s.httpServer.Addr), slog.String("mode", s.Profile.Mode))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to serve")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown stops accepting requests and waits up to the session timeout for
// running sessions to finish persisting their replies.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.Profile.SessionTimeout)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		return errors.Wrap(err, "failed to close store")
	}
	slog.Info("threadcast stopped properly")
	return nil
}

func (s *Server) handleHealthz(c *echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		requestID := c.Request().Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set("X-Request-Id", requestID)

		err := next(c)
		slog.Info("request",
			slog.String("request_id", requestID),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
		return err
	}
}
