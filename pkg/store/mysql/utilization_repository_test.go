package mysql

import (
	"context"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDryRunDatastore builds statements without a database server
func newDryRunDatastore(t *testing.T) *Datastore {
	t.Helper()
	ds, err := OpenDatastore(mysql.New(mysql.Config{
		DSN:                       "farm:farm@tcp(127.0.0.1:3306)/farm?parseTime=True",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return ds
}

func TestUtilizationRepository_SetUpsertsByUDID(t *testing.T) {
	ds := newDryRunDatastore(t)
	repo := NewUtilizationRepository(ds)

	stmt := repo.upsertStatement(ds.DB(context.Background()), "emulator-5555", 4200).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, "INSERT INTO `device_utilizations`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, sql, "`total_ms`")
	assert.Contains(t, stmt.Vars, "emulator-5555")
	assert.Contains(t, stmt.Vars, int64(4200))
}

func TestSessionRepository_ListSessionsBuildsNewestFirstQuery(t *testing.T) {
	ds := newDryRunDatastore(t)
	repo := NewSessionRepository(ds)

	sessions, err := repo.ListSessions(context.Background(), "emulator-5555", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
