package main

import (
	"bytes"
	"context"
	"testing"

	"lfgkeeper/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func sqliteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestExecute_VerifyBeforeAndAfterAuto(t *testing.T) {
	db := sqliteDB(t)
	ctx := context.Background()
	cfg := &config.Config{Env: "test", DBSchemaMode: "auto"}

	var out bytes.Buffer
	err := execute(ctx, db, cfg, []string{"verify"}, &out)
	assert.ErrorContains(t, err, "requests, failure_records")
	assert.Contains(t, out.String(), "idx_failure_open")

	out.Reset()
	require.NoError(t, execute(ctx, db, cfg, []string{"auto"}, &out))
	assert.Contains(t, out.String(), "automigrations applied")

	out.Reset()
	require.NoError(t, execute(ctx, db, cfg, []string{"VERIFY"}, &out))
	assert.NotContains(t, out.String(), "idx_")

	out.Reset()
	require.NoError(t, execute(ctx, db, cfg, []string{"status"}, &out))
	assert.Contains(t, out.String(), "mode=auto env=test run_sql=false run_auto=true")
	assert.Contains(t, out.String(), "failure_records")
}

func TestExecute_RejectsBadArguments(t *testing.T) {
	db := sqliteDB(t)
	ctx := context.Background()
	cfg := &config.Config{Env: "test"}

	assert.ErrorIs(t, execute(ctx, db, cfg, nil, &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, execute(ctx, db, cfg, []string{"sideways"}, &bytes.Buffer{}), errUsage)
	assert.ErrorContains(t, execute(ctx, db, cfg, []string{"down"}, &bytes.Buffer{}), "down <version>")
	assert.ErrorContains(t, execute(ctx, db, cfg, []string{"down", "x"}, &bytes.Buffer{}), "invalid version")
}
