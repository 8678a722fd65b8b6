// Package dbtest opens throwaway in-memory SQLite databases with the schema applied.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-dashboard-auth/pkg/database"
)

// New returns a migrated database private to the test.
func New(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_time_format=sqlite", ksuid.New().String())
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)
	return db
}
