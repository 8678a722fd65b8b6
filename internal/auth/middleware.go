package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/entity"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

const (
	SetupPath     = "/auth/setup-2fa"
	LoginPath     = "/auth/login"
	ForbiddenPath = "/403"
)

// ForceTwoFactorExcluded lists path prefixes never redirected to 2FA enrollment.
var ForceTwoFactorExcluded = []string{
	SetupPath,
	LoginPath,
	"/logout",
	"/api/auth/",
	"/assets",
	"/favicon",
	"/health",
	"/metrics",
}

type ctxKey struct{}

// RequestAuth is what the middleware resolved for the current request.
// The zero value is an anonymous request.
type RequestAuth struct {
	User    *AuthenticatedUser
	Session *entity.Session
}

// Authenticated reports whether a user was resolved.
func (ra RequestAuth) Authenticated() bool { return ra.User != nil }

// WithRequestAuth returns ctx carrying ra.
func WithRequestAuth(ctx context.Context, ra RequestAuth) context.Context {
	return context.WithValue(ctx, ctxKey{}, ra)
}

// FromContext returns the resolved auth of the request, anonymous if none.
func FromContext(ctx context.Context) RequestAuth {
	ra, _ := ctx.Value(ctxKey{}).(RequestAuth)
	return ra
}

// CurrentUser returns the resolved user or nil.
func CurrentUser(ctx context.Context) *AuthenticatedUser {
	return FromContext(ctx).User
}

// sessionResolver is the part of Service the middleware depends on.
type sessionResolver interface {
	UserBySession(ctx context.Context, token string) (*AuthenticatedUser, *entity.Session, error)
	ForceTwoFactor(ctx context.Context) (bool, error)
}

// Middleware resolves sessions and guards routes.
type Middleware struct {
	svc        sessionResolver
	logger     *zap.SugaredLogger
	cookieName string
	secure     bool
	excluded   []string
}

func NewMiddleware(svc *Service, logger *zap.SugaredLogger) *Middleware {
	return newMiddleware(svc, svc.Config(), logger)
}

func newMiddleware(svc sessionResolver, cfg Config, logger *zap.SugaredLogger) *Middleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	name := cfg.SessionCookieName
	if name == "" {
		name = defaultSessionCookie
	}
	return &Middleware{svc: svc, logger: logger, cookieName: name, secure: cfg.CookieSecure, excluded: ForceTwoFactorExcluded}
}

// NeedsTwoFactorSetup reports whether a request for path must be sent to enrollment.
func NeedsTwoFactorSetup(path string, u *AuthenticatedUser, force bool, excluded []string) bool {
	if u == nil || u.TwoFactorEnabled || !force {
		return false
	}
	return !excludedPath(path, excluded)
}

// Resolve attaches the session's user to the request context. A missing or
// invalid session continues anonymously; guards decide what that means.
func (m *Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(m.cookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, sess, err := m.svc.UserBySession(r.Context(), c.Value)
		if err != nil {
			m.logger.Warnw("session lookup failed", "path", r.URL.Path, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if u == nil {
			http.SetCookie(w, expiredCookie(m.cookieName, m.secure))
			next.ServeHTTP(w, r)
			return
		}

		if !u.TwoFactorEnabled && !excludedPath(r.URL.Path, m.excluded) {
			force, err := m.svc.ForceTwoFactor(r.Context())
			if err != nil {
				m.logger.Warnw("force_two_factor lookup failed", "err", err)
			}
			if NeedsTwoFactorSetup(r.URL.Path, u, force, m.excluded) {
				if wantsJSON(r) {
					utilities.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "2FA setup required", "redirect": SetupPath})
					return
				}
				http.Redirect(w, r, SetupPath, http.StatusFound)
				return
			}
		}

		ctx := WithRequestAuth(r.Context(), RequestAuth{User: u, Session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth sends anonymous requests to the login page.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).Authenticated() {
			m.toLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission sends anonymous requests to login and users lacking
// (resource, action) to the forbidden page.
func (m *Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := CurrentUser(r.Context())
			if u == nil {
				m.toLogin(w, r)
				return
			}
			if !u.HasPermission(resource, action) {
				m.logger.Debugw("permission denied", "user_id", u.ID, "resource", resource, "action", action)
				if wantsJSON(r) {
					utilities.WriteError(w, http.StatusForbidden, PublicMessage(ErrPermissionDenied))
					return
				}
				http.Redirect(w, r, ForbiddenPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) toLogin(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		utilities.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	http.Redirect(w, r, LoginPath+"?redirect="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

func excludedPath(path string, excluded []string) bool {
	for _, p := range excluded {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// wantsJSON treats API paths and JSON clients as non-browser callers.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json")
}
