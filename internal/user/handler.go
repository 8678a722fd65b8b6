package user

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// Handler exposes HTTP endpoints for registration and user administration.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterResponse response body containing new user id.
type RegisterResponse struct {
	ID int64 `json:"id"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := utilities.DecodeJSON(r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// TODO: deliver res.VerificationToken by email once a mail sender exists.
	utilities.WriteJSON(w, http.StatusCreated, RegisterResponse{ID: res.User.ID})
}

// CreateResponse describes an account created by an administrator.
type CreateResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	u, err := h.svc.Create(r.Context(), auth.CurrentUser(r.Context()).ID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, CreateResponse{ID: u.ID, Email: u.Email, Username: u.Username, Name: u.Name, Role: strings.TrimSpace(req.Role)})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// StatusRequest toggles an account.
type StatusRequest struct {
	Active *bool `json:"is_active"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := utilities.DecodeJSON(r, &req); err != nil || req.Active == nil {
		utilities.WriteError(w, http.StatusBadRequest, "is_active is required")
		return
	}
	if err := h.svc.SetActive(r.Context(), auth.CurrentUser(r.Context()).ID, id, *req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": *req.Active})
}

// RolesRequest replaces an account's roles.
type RolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (h *Handler) AssignRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RolesRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.svc.AssignRoles(r.Context(), id, req.RoleIDs); err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "role_ids": role.Dedupe(req.RoleIDs)})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), auth.CurrentUser(r.Context()).ID, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidToken):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, role.ErrRoleNotFound):
		utilities.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		utilities.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSelfModification):
		utilities.WriteError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Warnw("user request failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "request failed")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		utilities.WriteError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
