package fees

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/platform/httpx"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// Handler exposes the fee directory over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers fee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.CapFeesView, rbac.CapFeesManage))
		r.Get("/headings", h.listHeadings)
		r.Get("/structures", h.listStructures)
		r.Get("/students/{studentID}/assignments", h.listAssignments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.CapFeesManage))
		r.Post("/headings", h.createHeading)
		r.Post("/structures", h.createStructure)
		r.Post("/assignments", h.assign)
		r.Post("/assignments/bulk", h.bulkAssign)
		r.Post("/assignments/{id}/deactivate", h.deactivate)
	})
}

func (h *Handler) listHeadings(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	out, err := h.service.ListHeadings(r.Context(), rbac.CapabilitiesFromContext(r.Context()), centerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listStructures(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	year := strings.TrimSpace(r.URL.Query().Get("academic_year"))
	out, err := h.service.ListStructures(r.Context(), rbac.CapabilitiesFromContext(r.Context()), centerID, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.RespondError(w, validationError("invalid student id"))
		return
	}
	year := strings.TrimSpace(r.URL.Query().Get("academic_year"))
	out, err := h.service.ActiveAssignments(r.Context(), rbac.CapabilitiesFromContext(r.Context()), studentID, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createHeading(w http.ResponseWriter, r *http.Request) {
	var in CreateHeadingInput
	if !h.decode(w, r, &in) || !h.allowCenter(w, r, in.CenterID) {
		return
	}
	out, err := h.service.CreateHeading(r.Context(), rbac.CapabilitiesFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) createStructure(w http.ResponseWriter, r *http.Request) {
	var in CreateStructureInput
	if !h.decode(w, r, &in) || !h.allowCenter(w, r, in.CenterID) {
		return
	}
	out, err := h.service.CreateStructure(r.Context(), rbac.CapabilitiesFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var in AssignInput
	if !h.decode(w, r, &in) {
		return
	}
	out, err := h.service.AssignStructure(r.Context(), rbac.CapabilitiesFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) bulkAssign(w http.ResponseWriter, r *http.Request) {
	var in BulkAssignInput
	if !h.decode(w, r, &in) {
		return
	}
	out, err := h.service.BulkAssign(r.Context(), rbac.CapabilitiesFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, validationError("invalid assignment id"))
		return
	}
	if err := h.service.DeactivateAssignment(r.Context(), rbac.CapabilitiesFromContext(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, validationError("%v", err))
		return false
	}
	return true
}

func (h *Handler) centerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("center_id")
	if raw == "" {
		if p, ok := rbac.PrincipalFromContext(r.Context()); ok && p.CenterID != uuid.Nil {
			return p.CenterID, true
		}
		httpx.RespondError(w, validationError("center_id is required"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, validationError("invalid center_id"))
		return uuid.Nil, false
	}
	return id, h.allowCenter(w, r, id)
}

func (h *Handler) allowCenter(w http.ResponseWriter, r *http.Request, centerID uuid.UUID) bool {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok || !p.CanAccessCenter(centerID) {
		httpx.RespondError(w, ErrForbidden)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.Error("fees request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
