package router

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", utilities.ClientIP(r),
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 and logs the stack.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.Errorw("handler panic", "path", r.URL.Path, "panic", p, "stack", string(debug.Stack()))
					utilities.WriteError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				// data: is needed for the 2FA QR code image
				w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; object-src 'none'; base-uri 'self';")
			}
			if strings.HasPrefix(r.URL.Path, "/api/auth/") {
				w.Header().Set("Cache-Control", "no-store")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnsureInitializedMiddleware holds requests until the database is migrated
// and seeded. Health and metrics stay reachable while it is not.
func EnsureInitializedMiddleware(guard *bootstrap.Initializer, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if err := guard.Ensure(r.Context()); err != nil {
				logger.Warnw("service not initialized", "err", err)
				utilities.WriteError(w, http.StatusServiceUnavailable, "service initializing")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the services the router mounts.
type Deps struct {
	Auth               *auth.Service
	Users              *user.UserService
	Roles              *role.Service
	Settings           *setting.Service
	Init               *bootstrap.Initializer
	Metrics            http.Handler
	LoginRatePerMinute int
	TrustedProxies     utilities.TrustedProxies
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()
	mw := auth.NewMiddleware(d.Auth, logger)
	limiter := NewIPRateLimiter(d.LoginRatePerMinute)

	authHandler := auth.NewHandler(d.Auth, logger)
	userHandler := user.NewHandler(d.Users, logger)
	roleHandler := role.NewHandler(d.Roles, logger)
	settingHandler := setting.NewHandler(d.Settings, logger)

	authed := func(h http.HandlerFunc) http.Handler { return mw.RequireAuth(h) }
	can := func(resource, action string, h http.HandlerFunc) http.Handler {
		return mw.RequirePermission(resource, action)(h)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if d.Init != nil && !d.Init.Ready() {
			status = "initializing"
		}
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	// auth
	mux.Handle("POST /api/auth/login", limiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/verify-2fa", limiter.Middleware(http.HandlerFunc(authHandler.VerifyTwoFactor)))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/auth/me", authed(authHandler.Me))
	mux.Handle("POST /api/auth/2fa/setup", authed(authHandler.Setup2FA))
	mux.Handle("POST /api/auth/2fa/enable", authed(authHandler.Enable2FA))
	mux.Handle("POST /api/auth/2fa/disable", authed(authHandler.Disable2FA))
	mux.Handle("POST /api/auth/register", limiter.Middleware(http.HandlerFunc(userHandler.Register)))
	mux.HandleFunc("GET /api/auth/verify-email", userHandler.VerifyEmail)

	// roles
	mux.Handle("GET /api/roles", can(auth.ResourceRoles, auth.ActionRead, roleHandler.List))
	mux.Handle("GET /api/roles/{id}", can(auth.ResourceRoles, auth.ActionRead, roleHandler.Get))
	mux.Handle("GET /api/permissions", can(auth.ResourceRoles, auth.ActionRead, roleHandler.ListPermissions))
	mux.Handle("POST /api/roles", can(auth.ResourceRoles, auth.ActionManage, roleHandler.Create))
	mux.Handle("PUT /api/roles/{id}", can(auth.ResourceRoles, auth.ActionManage, roleHandler.Update))
	mux.Handle("DELETE /api/roles/{id}", can(auth.ResourceRoles, auth.ActionManage, roleHandler.Delete))

	// users
	mux.Handle("POST /api/users", can(auth.ResourceUsers, auth.ActionManage, userHandler.Create))
	mux.Handle("PUT /api/users/{id}/status", can(auth.ResourceUsers, auth.ActionManage, userHandler.SetStatus))
	mux.Handle("PUT /api/users/{id}/roles", can(auth.ResourceUsers, auth.ActionManage, userHandler.AssignRoles))
	mux.Handle("DELETE /api/users/{id}", can(auth.ResourceUsers, auth.ActionManage, userHandler.Delete))

	// settings
	mux.Handle("GET /api/settings", can(auth.ResourceSettings, auth.ActionRead, settingHandler.List))
	mux.Handle("GET /api/settings/force-two-factor", can(auth.ResourceSettings, auth.ActionRead, settingHandler.GetForceTwoFactor))
	mux.Handle("PUT /api/settings/force-two-factor", can(auth.ResourceSettings, auth.ActionManage, settingHandler.PutForceTwoFactor))

	var handler http.Handler = mux
	handler = mw.Resolve(handler)
	handler = EnsureInitializedMiddleware(d.Init, logger)(handler)
	handler = SecurityHeadersMiddleware()(handler)
	handler = RecoverMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = d.TrustedProxies.Middleware(handler)
	return handler
}
