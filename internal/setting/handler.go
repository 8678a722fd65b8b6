package setting

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// Handler contains dependencies for handling setting endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

// NewHandler constructs a new Handler.
func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ForceTwoFactorBody is the payload of the force-2FA toggle.
type ForceTwoFactorBody struct {
	Enabled *bool `json:"enabled"`
}

// GetForceTwoFactor returns the current toggle.
func (h *Handler) GetForceTwoFactor(w http.ResponseWriter, r *http.Request) {
	on, err := h.svc.ForceTwoFactor(r.Context())
	if err != nil {
		h.logger.Warnw("read force_two_factor failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "request failed")
		return
	}
	utilities.WriteJSON(w, http.StatusOK, ForceTwoFactorBody{Enabled: &on})
}

// PutForceTwoFactor writes the toggle.
func (h *Handler) PutForceTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body ForceTwoFactorBody
	if err := utilities.DecodeJSON(r, &body); err != nil || body.Enabled == nil {
		utilities.WriteError(w, http.StatusBadRequest, ErrInvalidValue.Error())
		return
	}
	if err := h.svc.SetForceTwoFactor(r.Context(), *body.Enabled); err != nil {
		h.logger.Warnw("write force_two_factor failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "request failed")
		return
	}
	h.logger.Infow("force_two_factor updated", "enabled", *body.Enabled)
	utilities.WriteJSON(w, http.StatusOK, body)
}

// List returns every stored setting.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Warnw("list settings failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "request failed")
		return
	}
	utilities.WriteJSON(w, http.StatusOK, all)
}
