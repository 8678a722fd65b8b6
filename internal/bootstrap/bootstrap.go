package bootstrap

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
)

// Options control what Ensure seeds.
type Options struct {
	DemoUsers bool
	Hasher    auth.PasswordHasher
}

// Initializer migrates and seeds the database at most once per process.
// Concurrent callers share one run; a failed run is retried by the next call.
type Initializer struct {
	db     *sqlx.DB
	opts   Options
	logger *zap.SugaredLogger
	now    func() time.Time

	group singleflight.Group
	done  atomic.Bool

	// run is swapped in tests.
	run func(ctx context.Context) error
}

func New(db *sqlx.DB, opts Options, logger *zap.SugaredLogger) *Initializer {
	if opts.Hasher == nil {
		opts.Hasher = auth.NewBcryptHasher(0)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	i := &Initializer{db: db, opts: opts, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	i.run = i.migrateAndSeed
	return i
}

// Ready reports whether initialization has completed.
func (i *Initializer) Ready() bool { return i.done.Load() }

// Ensure returns once the database is initialized.
func (i *Initializer) Ensure(ctx context.Context) error {
	if i.done.Load() {
		return nil
	}
	_, err, _ := i.group.Do("init", func() (any, error) {
		if i.done.Load() {
			return nil, nil
		}
		// detached so one caller giving up does not fail the others
		if err := i.run(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		i.done.Store(true)
		return nil, nil
	})
	return err
}

func (i *Initializer) migrateAndSeed(ctx context.Context) error {
	start := time.Now()
	applied, err := database.Migrate(ctx, i.db)
	if err != nil {
		i.logger.Errorw("database migration failed", "err", err)
		return err
	}
	if err := Seed(ctx, i.db, i.opts.Hasher, i.opts.DemoUsers, i.now()); err != nil {
		i.logger.Errorw("database seed failed", "err", err)
		return err
	}
	i.logger.Infow("database initialized", "migrations_applied", applied, "demo_users", i.opts.DemoUsers,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
