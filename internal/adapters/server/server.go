// Package server mounts the REST and MCP adapters, probes, and metrics on one listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/uktrade/tamato/internal/adapters/server/common"
	"github.com/uktrade/tamato/internal/adapters/server/httpapi"
	"github.com/uktrade/tamato/internal/adapters/server/mcpapi"
)

const (
	defaultBind      = "127.0.0.1:8080"
	shutdownGrace    = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

// Config selects the bind address and mount paths for serve mode.
type Config struct {
	HTTPBind        string
	APIEndpoint     string
	MCPEndpoint     string
	MetricsEndpoint string
	ServerName      string
	ServerVersion   string
	ReadOnlyMCP     bool
}

// Dependencies carries the service and optional probes used by the mux.
type Dependencies struct {
	Service common.TariffService
	// Ready backs /readyz. Nil reports ready.
	Ready func(context.Context) error
	// Metrics is mounted at MetricsEndpoint when non-nil.
	Metrics http.Handler
}

// NewHandler builds the root mux and returns the config with defaults applied.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, Config, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, Config{}, err
	}
	if deps.Service == nil {
		return nil, Config{}, errors.New("tariff service dependency is required")
	}

	mcpHandler, err := mcpapi.NewHandler(mcpapi.Config{
		ServerName:    resolved.ServerName,
		ServerVersion: resolved.ServerVersion,
		EndpointPath:  resolved.MCPEndpoint,
		ReadOnly:      resolved.ReadOnlyMCP,
	}, deps.Service)
	if err != nil {
		return nil, Config{}, fmt.Errorf("configure mcp handler: %w", err)
	}
	api := http.StripPrefix(resolved.APIEndpoint, httpapi.NewHandler(deps.Service))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/readyz", readiness(deps.Ready))
	if deps.Metrics != nil {
		mux.Handle(resolved.MetricsEndpoint, deps.Metrics)
	}
	mux.Handle(resolved.MCPEndpoint, mcpHandler)
	for _, prefix := range []string{resolved.APIEndpoint, resolved.APIEndpoint + "/"} {
		mux.Handle(prefix, api)
	}
	return mux, resolved, nil
}

// Run serves until ctx ends, then drains in-flight requests.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if ctx == nil {
		ctx = context.Background()
	}
	handler, resolved, err := NewHandler(cfg, deps)
	if err != nil {
		return fmt.Errorf("build server handler: %w", err)
	}
	srv := &http.Server{
		Addr:              resolved.HTTPBind,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve: %w", err)
	case <-ctx.Done():
		return drain(srv, errCh)
	}
}

func drain(srv *http.Server, errCh <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	serveErr := <-errCh
	switch {
	case shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled):
		return fmt.Errorf("shutdown server: %w", shutdownErr)
	case serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed):
		return fmt.Errorf("serve after shutdown: %w", serveErr)
	}
	return nil
}

// resolveConfig fills defaults and rejects overlapping mount paths.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.HTTPBind = strings.TrimSpace(cfg.HTTPBind); cfg.HTTPBind == "" {
		cfg.HTTPBind = defaultBind
	}
	cfg.APIEndpoint = common.CleanPath(cfg.APIEndpoint, "/api/v1")
	cfg.MCPEndpoint = common.CleanPath(cfg.MCPEndpoint, "/mcp")
	cfg.MetricsEndpoint = common.CleanPath(cfg.MetricsEndpoint, "/metrics")
	switch {
	case cfg.APIEndpoint == cfg.MCPEndpoint:
		return Config{}, errors.New("api and mcp endpoints must differ")
	case cfg.MetricsEndpoint == cfg.APIEndpoint, cfg.MetricsEndpoint == cfg.MCPEndpoint:
		return Config{}, errors.New("metrics endpoint must differ from api and mcp endpoints")
	}
	if cfg.ServerName = strings.TrimSpace(cfg.ServerName); cfg.ServerName == "" {
		cfg.ServerName = "tamato"
	}
	if cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion); cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	return cfg, nil
}

// readiness answers 503 while the storage probe fails.
func readiness(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ok")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, "{\"status\":%q}\n", status)
}
