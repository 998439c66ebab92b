// Package httpapi serves workbaskets, versions and envelope exports as JSON over REST.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/uktrade/tamato/internal/adapters/server/common"
)

const (
	maxRequestBodyBytes int64 = 4 << 20
	// identityParamPrefix marks query parameters that carry identifying field values.
	identityParamPrefix = "identity."
)

// Handler is mounted under the API prefix; paths it sees are relative to it.
type Handler struct {
	service common.TariffService
	routes  []route
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope is the top-level error document.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// endpoint handles one method on a route. id is the "*" segment, if any.
type endpoint func(w http.ResponseWriter, r *http.Request, id string)

type methodEndpoint struct {
	method string
	fn     endpoint
}

func get(fn endpoint) methodEndpoint  { return methodEndpoint{http.MethodGet, fn} }
func post(fn endpoint) methodEndpoint { return methodEndpoint{http.MethodPost, fn} }
func del(fn endpoint) methodEndpoint  { return methodEndpoint{http.MethodDelete, fn} }

type route struct {
	pattern   []string
	endpoints []methodEndpoint
}

func on(pattern string, endpoints ...methodEndpoint) route {
	return route{pattern: splitPath(pattern), endpoints: endpoints}
}

// NewHandler wires every REST route to service.
func NewHandler(service common.TariffService) *Handler {
	h := &Handler{service: service}
	noID := func(fn func(http.ResponseWriter, *http.Request)) endpoint {
		return func(w http.ResponseWriter, r *http.Request, _ string) { fn(w, r) }
	}
	h.routes = []route{
		on("kinds", get(noID(h.handleListKinds))),
		on("workbaskets", get(noID(h.handleListWorkbaskets)), post(noID(h.handleCreateWorkbasket))),
		on("workbaskets/*", get(h.handleGetWorkbasket), del(h.handleDiscardWorkbasket)),
		on("workbaskets/*/transitions", post(h.handleTransition)),
		on("workbaskets/*/transactions", get(h.handleListTransactions), post(h.handleCommit)),
		on("versions", get(noID(h.handleQueryFromParams)), post(noID(h.handleQueryFromBody))),
		on("version_groups/*/versions", get(h.handleVersionHistory)),
		on("envelopes", get(noID(h.handleExport))),
	}
	return h
}

// ServeHTTP dispatches on path, then method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "tariff service is not configured",
		})
		return
	}
	segments := splitPath(r.URL.Path)
	for _, rt := range h.routes {
		id, ok := match(segments, rt.pattern)
		if !ok {
			continue
		}
		allowed := make([]string, 0, len(rt.endpoints))
		for _, e := range rt.endpoints {
			if e.method == r.Method {
				e.fn(w, r, id)
				return
			}
			allowed = append(allowed, e.method)
		}
		writeMethodNotAllowed(w, allowed...)
		return
	}
	writeJSONError(w, http.StatusNotFound, APIError{Code: "not_found", Message: "endpoint not found"})
}

// handleListKinds serves GET `/kinds`.
func (h *Handler) handleListKinds(w http.ResponseWriter, r *http.Request) {
	kinds, err := h.service.ListKinds(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kinds": kinds})
}

// handleListWorkbaskets serves GET `/workbaskets?status=EDITING,PROPOSED`.
func (h *Handler) handleListWorkbaskets(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	for _, raw := range r.URL.Query()["status"] {
		statuses = append(statuses, strings.Split(raw, ",")...)
	}
	rows, err := h.service.ListWorkbaskets(r.Context(), common.ListWorkbasketsRequest{Statuses: statuses})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workbaskets": rows})
}

// handleCreateWorkbasket serves POST `/workbaskets`.
func (h *Handler) handleCreateWorkbasket(w http.ResponseWriter, r *http.Request) {
	var req common.CreateWorkbasketRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	wb, err := h.service.CreateWorkbasket(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wb)
}

// handleGetWorkbasket serves GET `/workbaskets/{id}`.
func (h *Handler) handleGetWorkbasket(w http.ResponseWriter, r *http.Request, id string) {
	wb, err := h.service.GetWorkbasket(r.Context(), id)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wb)
}

// handleDiscardWorkbasket serves DELETE `/workbaskets/{id}`.
func (h *Handler) handleDiscardWorkbasket(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.DiscardWorkbasket(r.Context(), id); err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransition serves POST `/workbaskets/{id}/transitions`.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	var req common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.WorkbasketID = id
	wb, err := h.service.TransitionWorkbasket(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wb)
}

// handleListTransactions serves GET `/workbaskets/{id}/transactions`.
func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request, id string) {
	rows, err := h.service.ListTransactions(r.Context(), id)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

// handleCommit serves POST `/workbaskets/{id}/transactions`.
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request, id string) {
	var req common.CommitRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.WorkbasketID = id
	result, err := h.service.Commit(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleQueryFromParams serves GET `/versions` with lens parameters in the query string.
func (h *Handler) handleQueryFromParams(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req := common.QueryRequest{
		Lens:          strings.TrimSpace(params.Get("lens")),
		Kind:          strings.TrimSpace(params.Get("kind")),
		TransactionID: strings.TrimSpace(params.Get("transaction_id")),
		AsAt:          strings.TrimSpace(params.Get("as_at")),
		Effect:        strings.TrimSpace(params.Get("effect")),
	}
	if raw := strings.TrimSpace(params.Get("since_order")); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "since_order must be an integer",
			})
			return
		}
		req.SinceOrder = since
	}
	for key, values := range params {
		field, ok := strings.CutPrefix(key, identityParamPrefix)
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		if req.Identity == nil {
			req.Identity = map[string]string{}
		}
		req.Identity[field] = values[0]
	}
	h.runQuery(w, r, req)
}

// handleQueryFromBody serves POST `/versions` with a JSON query document.
func (h *Handler) handleQueryFromBody(w http.ResponseWriter, r *http.Request) {
	var req common.QueryRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	h.runQuery(w, r, req)
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, req common.QueryRequest) {
	result, err := h.service.QueryVersions(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleVersionHistory serves GET `/version_groups/{id}/versions`.
func (h *Handler) handleVersionHistory(w http.ResponseWriter, r *http.Request, groupID string) {
	rows, err := h.service.VersionHistory(r.Context(), groupID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": rows})
}

// handleExport serves GET `/envelopes?since_order=N`.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var req common.ExportRequest
	if raw := strings.TrimSpace(r.URL.Query().Get("since_order")); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "since_order must be an integer",
			})
			return
		}
		req.SinceOrder = since
	}
	env, err := h.service.ExportEnvelope(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.Header().Set("Digest", "sha-256="+env.Digest)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(env.Body)
}

// splitPath canonicalizes one request path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match reports whether segments fit pattern, where "*" matches one non-empty
// segment. The "*" value is returned.
func match(segments, pattern []string) (string, bool) {
	if len(segments) != len(pattern) {
		return "", false
	}
	var id string
	for i, want := range pattern {
		switch {
		case want == "*" && strings.TrimSpace(segments[i]) != "":
			id = segments[i]
		case segments[i] != want:
			return "", false
		}
	}
	return id, true
}

// errorStatuses is checked in order. Unmatched errors become internal_error.
var errorStatuses = []struct {
	target error
	status int
	code   string
	hint   string
}{
	{common.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{common.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{common.ErrValidationFailed, http.StatusUnprocessableEntity, "validation_failed", ""},
	{common.ErrConflict, http.StatusConflict, "conflict", "Reload the workbasket and the current versions, then retry."},
	{common.ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{common.ErrUnavailable, http.StatusNotImplemented, "not_implemented", ""},
}

func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{Code: "internal_error", Message: "unknown error"})
		return
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.target) {
			writeJSONError(w, e.status, APIError{Code: e.code, Message: err.Error(), Hint: e.hint})
			return
		}
	}
	writeJSONError(w, http.StatusInternalServerError, APIError{Code: "internal_error", Message: err.Error()})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
