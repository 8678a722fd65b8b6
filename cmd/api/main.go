package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	authrepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role"
	rolerepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/role/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/utilities"
)

const (
	purgeInterval           = 10 * time.Minute
	defaultAttemptRetention = 30 * 24 * time.Hour
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-dashboard-auth")

	dbCfg := database.ConfigFromEnv()
	db, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	sugar.Infow("database connected", "driver", dbCfg.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authCfg := auth.ConfigFromEnv()
	hasher := auth.NewBcryptHasher(authCfg.BcryptCost)

	pendingRepo, closePending, err := pendingBackend(ctx, db, sugar)
	if err != nil {
		sugar.Fatalf("pending auth backend: %v", err)
	}
	defer closePending()

	users := userrepo.NewUserRepo(db)
	roles := rolerepo.NewRoleRepo(db)
	settings := setting.NewService(settingrepo.NewRepo(db))

	authSvc := auth.NewService(auth.Deps{
		Users:    users,
		Roles:    roles,
		Settings: settings,
		Sessions: authrepo.NewSessionRepo(db),
		Pending:  pendingRepo,
		Attempts: authrepo.NewAttemptRepo(db),
		Hasher:   hasher,
		Metrics:  auth.NewMetrics(prometheus.DefaultRegisterer, "dashboard"),
	}, authCfg, sugar)
	roleSvc := role.NewService(db, roles)
	userSvc := user.NewUserService(db, users, roleSvc, hasher, authSvc, sugar)

	initializer := bootstrap.New(db, bootstrap.Options{
		DemoUsers: envBool("SEED_DEMO_USERS"),
		Hasher:    hasher,
	}, sugar)
	if err := initializer.Ensure(ctx); err != nil {
		// requests retry initialization through the router guard
		sugar.Warnw("database initialization failed; will retry on request", "err", err)
	}

	proxies, err := utilities.ParseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		sugar.Fatalf("invalid TRUSTED_PROXIES: %v", err)
	}

	handler := router.RegisterRoutes(sugar, router.Deps{
		Auth:               authSvc,
		Users:              userSvc,
		Roles:              roleSvc,
		Settings:           settings,
		Init:               initializer,
		Metrics:            promhttp.Handler(),
		LoginRatePerMinute: envInt("LOGIN_RATE_PER_MINUTE", 20),
		TrustedProxies:     proxies,
	})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", addr)

	go purgeLoop(ctx, authSvc, envDuration("LOGIN_ATTEMPT_RETENTION", defaultAttemptRetention), sugar)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// pendingBackend selects where pending-auth tokens live.
func pendingBackend(ctx context.Context, db *sqlx.DB, logger *zap.SugaredLogger) (auth.PendingRepository, func(), error) {
	if strings.ToLower(os.Getenv("PENDING_AUTH_BACKEND")) != "redis" {
		logger.Infow("pending auth backend", "backend", "sql")
		return authrepo.NewPendingRepo(db), func() {}, nil
	}
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	client, err := authrepo.NewRedisClientFromURL(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	logger.Infow("pending auth backend", "backend", "redis")
	return authrepo.NewRedisPendingRepo(client), func() { _ = client.Close() }, nil
}

// purgeLoop clears expired sessions and pending tokens, and old ledger rows.
func purgeLoop(ctx context.Context, svc *auth.Service, retention time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, pending, err := svc.PurgeExpired(ctx)
			if err != nil {
				logger.Warnw("purge expired failed", "err", err)
				continue
			}
			attempts, err := svc.PurgeAttempts(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				logger.Warnw("purge attempts failed", "err", err)
				continue
			}
			logger.Debugw("purged", "sessions", sessions, "pending", pending, "attempts", attempts)
		}
	}
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}
