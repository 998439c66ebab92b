// Package mcpapi exposes tariff workflow operations as MCP tools over streamable HTTP.
package mcpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/uktrade/tamato/internal/adapters/server/common"
)

// Config names the MCP server and its mount path.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
	// ReadOnly hides tools that change workbaskets or versions.
	ReadOnly bool
}

// Handler serves MCP requests without session state.
type Handler struct {
	next http.Handler
}

// NewHandler registers the tamato tools and returns a mountable handler.
func NewHandler(cfg Config, service common.TariffService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("tariff service is required")
	}
	cfg = withDefaults(cfg)

	srv := mcpserver.NewMCPServer(cfg.ServerName, cfg.ServerVersion, mcpserver.WithToolCapabilities(false))
	registerReadTools(srv, service)
	if !cfg.ReadOnly {
		registerWorkflowTools(srv, service)
		registerCommitTool(srv, service)
	}
	return &Handler{
		next: mcpserver.NewStreamableHTTPServer(srv,
			mcpserver.WithEndpointPath(cfg.EndpointPath),
			mcpserver.WithStateLess(true),
		),
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.next == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.next.ServeHTTP(w, r)
}

func withDefaults(cfg Config) Config {
	if cfg.ServerName = strings.TrimSpace(cfg.ServerName); cfg.ServerName == "" {
		cfg.ServerName = "tamato"
	}
	if cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion); cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = common.CleanPath(cfg.EndpointPath, "/mcp")
	return cfg
}

// errorCodes orders service sentinels by the prefix shown to MCP clients.
var errorCodes = []struct {
	target error
	code   string
}{
	{common.ErrInvalidRequest, "invalid_request"},
	{common.ErrNotFound, "not_found"},
	{common.ErrValidationFailed, "validation_failed"},
	{common.ErrConflict, "conflict"},
	{common.ErrForbidden, "forbidden"},
	{common.ErrUnavailable, "not_implemented"},
}

// toolResultFromError prefixes err with its client-visible error code.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	code := "internal_error"
	for _, c := range errorCodes {
		if errors.Is(err, c.target) {
			code = c.code
			break
		}
	}
	return mcp.NewToolResultError(code + ": " + err.Error())
}

func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}

// jsonResult encodes payload as a JSON tool result.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}
