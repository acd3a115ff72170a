package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/n9te9/go-graphql-fusion-gateway/gateway"
	"github.com/n9te9/go-graphql-fusion-gateway/registry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type server struct {
	settings gateway.GatewayOption
	logger   *zap.Logger
	registry *registry.Registry
	http     *http.Server
}

// New loads the composite schema and prepares the HTTP server without starting it.
func New(ctx context.Context, settings gateway.GatewayOption, logger *zap.Logger, tp trace.TracerProvider) (*server, error) {
	opts := []gateway.Option{gateway.WithLogger(logger)}
	if tp != nil {
		opts = append(opts, gateway.WithTracerProvider(tp))
	}

	initial, err := gateway.NewGateway(ctx, settings, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}

	reg := registry.NewRegistry(initial, func(sdl []byte) (*gateway.Gateway, error) {
		return gateway.NewGatewayFromSDL(settings, sdl, opts...)
	}, logger, registry.WithDrainPeriod(settings.Schema.DrainPeriod))

	return &server{
		settings: settings,
		logger:   logger,
		registry: reg,
		http: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(settings.Port)),
			Handler:           newHandler(settings.Endpoint, reg, tp != nil),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *server) Handler() http.Handler {
	return s.http.Handler
}

// Serve blocks until ctx is done, then shuts the server down gracefully.
func (s *server) Serve(ctx context.Context) error {
	if s.settings.Schema.Watch && s.settings.Schema.File != "" {
		if err := s.registry.WatchFile(ctx, s.settings.Schema.File, os.ReadFile); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway started",
			zap.String("addr", s.http.Addr),
			zap.String("endpoint", s.settings.Endpoint),
			zap.String("service_name", s.settings.ServiceName),
		)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.settings.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down gateway", zap.Duration("timeout", timeout))
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down gateway: %w", err)
	}
	s.registry.Close()
	return nil
}

// Run sets up tracing when enabled, then serves until ctx is done.
func Run(ctx context.Context, settings gateway.GatewayOption, logger *zap.Logger) error {
	var tp trace.TracerProvider
	if settings.Opentelemetry.TracingSetting.Enable {
		sdkProvider, err := SetupTracing(ctx, settings.ServiceName, settings.Opentelemetry.TracingSetting, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sdkProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down tracer provider", zap.Error(err))
			}
		}()
		tp = sdkProvider
	}

	s, err := New(ctx, settings, logger, tp)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
