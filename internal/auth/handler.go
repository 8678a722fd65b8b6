package auth

import (
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

const (
	dashboardPath = "/dashboard"
	verifyPath    = "/auth/verify-2fa"
)

// Handler exposes the auth flows over HTTP and owns cookie issuance.
type Handler struct {
	svc    *Service
	cfg    Config
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, cfg: svc.Config(), logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code"`
}

// LoginResponse is returned by login and verify-2fa.
type LoginResponse struct {
	User          *AuthenticatedUser `json:"user,omitempty"`
	RequiresTwoFA bool               `json:"requires_2fa"`
	RequiresSetup bool               `json:"requires_setup"`
	Redirect      string             `json:"redirect"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Email == "" || req.Password == "" {
		utilities.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		IPAddress:     utilities.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Pending() {
		h.setCookie(w, h.cfg.PendingCookieName, res.PendingToken, time.Now().Add(PendingTTL))
		utilities.WriteJSON(w, http.StatusOK, LoginResponse{RequiresTwoFA: true, Redirect: verifyPath})
		return
	}
	h.finish(w, res)
}

// VerifyRequest carries the second-step code. PendingToken is only read when
// the pending cookie is absent.
type VerifyRequest struct {
	Code         string `json:"code"`
	PendingToken string `json:"pending_token"`
}

func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	token := req.PendingToken
	if c, err := r.Cookie(h.cfg.PendingCookieName); err == nil && c.Value != "" {
		token = c.Value
	}
	// the token is single use whatever the outcome
	http.SetCookie(w, expiredCookie(h.cfg.PendingCookieName, h.cfg.CookieSecure))

	res, err := h.svc.VerifyPendingLogin(r.Context(), VerifyInput{
		PendingToken: token,
		Code:         req.Code,
		IPAddress:    utilities.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.finish(w, res)
}

func (h *Handler) finish(w http.ResponseWriter, res *LoginResult) {
	h.setCookie(w, h.cfg.SessionCookieName, res.Session.Token, res.Session.ExpiresAt)
	redirect := dashboardPath
	if res.RequiresSetup {
		redirect = SetupPath
	}
	user := res.User
	utilities.WriteJSON(w, http.StatusOK, LoginResponse{User: &user, RequiresSetup: res.RequiresSetup, Redirect: redirect})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil && c.Value != "" {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.writeError(w, err)
			return
		}
	}
	http.SetCookie(w, expiredCookie(h.cfg.SessionCookieName, h.cfg.CookieSecure))
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"redirect": LoginPath})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	utilities.WriteJSON(w, http.StatusOK, CurrentUser(r.Context()))
}

func (h *Handler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	u := CurrentUser(r.Context())
	host := r.Host
	if hh, _, err := net.SplitHostPort(host); err == nil {
		host = hh
	}
	sec, err := h.svc.Setup2FA(r.Context(), u.ID, host)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sec)
}

// EnableRequest confirms a secret from Setup2FA with a code generated from it.
type EnableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

func (h *Handler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	var req EnableRequest
	if err := utilities.DecodeJSON(r, &req); err != nil || req.Secret == "" || req.Code == "" {
		utilities.WriteError(w, http.StatusBadRequest, "secret and code are required")
		return
	}
	if err := h.svc.Enable2FA(r.Context(), CurrentUser(r.Context()).ID, req.Secret, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": true})
}

// DisableRequest carries a current code.
type DisableRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	var req DisableRequest
	if err := utilities.DecodeJSON(r, &req); err != nil || req.Code == "" {
		utilities.WriteError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := h.svc.Disable2FA(r.Context(), CurrentUser(r.Context()).ID, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": false})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("auth request failed", "err", err)
	}
	utilities.WriteError(w, status, PublicMessage(err))
}

// StatusFor maps an auth error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case IsInfrastructure(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotVerified),
		errors.Is(err, ErrInvalid2FACode), errors.Is(err, ErrInvalidOrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountDisabled), errors.Is(err, ErrAccountLocked), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTwoFactorNotEnabled), errors.Is(err, ErrTwoFactorNotConfigured):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func expiredCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
