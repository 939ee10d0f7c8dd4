package tenantstate

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/scriptrt/internal/audit"
	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Handler provides the admin HTTP API for reading and replacing a tenant's
// durable state blob.
type Handler struct {
	store  *Store
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a tenantstate Handler.
func NewHandler(store *Store, logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{store: store, logger: logger, audit: auditWriter}
}

// Routes returns a chi.Router with state routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Put("/", h.handlePut)
	return r
}

// PutRequest is the JSON body for PUT /api/v1/state.
type PutRequest struct {
	Events []string       `json:"events"`
	Data   map[string]any `json:"data"`
}

// Response is the JSON response for a tenant's state.
type Response struct {
	Events    []string       `json:"events"`
	Data      map[string]any `json:"data"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

func toResponse(s State) Response {
	resp := Response{Events: s.Events, Data: s.Data}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}

	state, err := h.store.Get(r.Context(), t)
	if err != nil {
		h.logger.Error("getting tenant state", "error", err, "tenant", t)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get state")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(state))
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}

	var req PutRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	state, err := h.store.Put(r.Context(), t, req.Events, req.Data)
	if err != nil {
		h.logger.Error("updating tenant state", "error", err, "tenant", t)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update state")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]any{"events": req.Events})
		h.audit.LogFromRequest(r, "update", "tenant_state", [16]byte{}, detail)
	}

	httpserver.Respond(w, http.StatusOK, toResponse(state))
}
