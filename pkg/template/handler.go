package template

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/scriptrt/internal/audit"
	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/pkg/capability"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Handler provides the admin HTTP API for attaching, listing, and removing
// a tenant's templates.
type Handler struct {
	service *Service
	logger  *slog.Logger
	audit   *audit.Writer
}

// NewHandler creates a template Handler.
func NewHandler(service *Service, logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{service: service, logger: logger, audit: auditWriter}
}

// Routes returns a chi.Router with all template routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleAttach)
	r.Get("/", h.handleList)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleAttach)
		r.Delete("/", h.handleDetach)
	})
	return r
}

// AttachRequest is the JSON body for POST /api/v1/templates and
// PUT /api/v1/templates/{name}.
type AttachRequest struct {
	Name         string            `json:"name" validate:"required,min=1,max=128"`
	Content      map[string]string `json:"content" validate:"required"`
	Language     string            `json:"language" validate:"required"`
	AllowedCaps  []string          `json:"allowed_caps"`
	Events       []string          `json:"events"`
	ErrorChannel string            `json:"error_channel"`
}

// Response is the JSON response for a single attached template.
type Response struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Content      map[string]string `json:"content"`
	Language     string            `json:"language"`
	AllowedCaps  []string          `json:"allowed_caps"`
	Events       []string          `json:"events"`
	ErrorChannel string            `json:"error_channel,omitempty"`
	State        string            `json:"state"`
}

func toResponse(t *Template) Response {
	caps := make([]string, len(t.AllowedCaps))
	for i, c := range t.AllowedCaps {
		caps[i] = string(c)
	}
	return Response{
		ID:           t.ID.String(),
		Name:         t.Name,
		Content:      t.Content,
		Language:     t.Language,
		AllowedCaps:  caps,
		Events:       t.Events,
		ErrorChannel: t.ErrorChannel,
		State:        string(t.State),
	}
}

func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if name := chi.URLParam(r, "name"); name != "" {
		req.Name = name
	}

	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}

	caps := make([]capability.String, len(req.AllowedCaps))
	for i, c := range req.AllowedCaps {
		caps[i] = capability.String(c)
	}

	tpl, err := h.service.Attach(r.Context(), UpsertParams{
		Tenant:       t,
		Name:         req.Name,
		Content:      req.Content,
		Language:     req.Language,
		AllowedCaps:  caps,
		Events:       req.Events,
		ErrorChannel: req.ErrorChannel,
		State:        StateActive,
	})
	if err != nil {
		h.logger.Error("attaching template", "error", err, "tenant", t, "name", req.Name)
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": tpl.Name})
		h.audit.LogFromRequest(r, "attach", "template", tpl.ID, detail)
	}

	httpserver.Respond(w, http.StatusOK, toResponse(tpl))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Fetch one extra row so NewCursorPage can tell whether more pages remain.
	templates, err := h.service.ListPage(r.Context(), t, params.After, params.Limit+1)
	if err != nil {
		h.logger.Error("listing templates", "error", err, "tenant", t)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list templates")
		return
	}

	page := httpserver.NewCursorPage(templates, params.Limit, func(tpl *Template) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: tpl.CreatedAt, ID: tpl.ID}
	})
	items := make([]Response, 0, len(page.Items))
	for _, tpl := range page.Items {
		items = append(items, toResponse(tpl))
	}
	httpserver.Respond(w, http.StatusOK, httpserver.CursorPage[Response]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}
	name := chi.URLParam(r, "name")

	tpl, err := h.service.Get(r.Context(), t, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		h.logger.Error("getting template", "error", err, "tenant", t, "name", name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get template")
		return
	}

	httpserver.Respond(w, http.StatusOK, toResponse(tpl))
}

func (h *Handler) handleDetach(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}
	name := chi.URLParam(r, "name")

	if err := h.service.Detach(r.Context(), t, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		h.logger.Error("detaching template", "error", err, "tenant", t, "name", name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to detach template")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "detach", "template", [16]byte{}, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
