package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

// Handler provides HTTP handlers for the audit log API.
type Handler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(pool *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

type logRow struct {
	ID         uuid.UUID       `json:"id"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID uuid.UUID       `json:"resource_id"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "tenant not resolved")
		return
	}

	var total int
	countQuery := `SELECT count(*) FROM audit_log WHERE owner_type = $1 AND owner_id = $2`
	if err := h.pool.QueryRow(r.Context(), countQuery, t.OwnerType(), t.OwnerID()).Scan(&total); err != nil {
		h.logger.Error("counting audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	query := `SELECT id, action, resource, resource_id, detail, created_at
		FROM audit_log WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	rows, err := h.pool.Query(r.Context(), query, t.OwnerType(), t.OwnerID(), params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	var entries []logRow
	for rows.Next() {
		var e logRow
		if err := rows.Scan(&e.ID, &e.Action, &e.Resource, &e.ResourceID, &e.Detail, &e.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("iterating audit log rows", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}
