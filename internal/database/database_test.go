package database

import (
	"context"
	"testing"
	"testing/fstest"

	"lfgkeeper/internal/config"
	"lfgkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, configurePool(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 25, sqlDB.Stats().MaxOpenConnections)
}

func TestDSN_DefaultsSSLMode(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "lfg"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=lfg sslmode=disable", DSN(cfg))

	cfg.DBSSLMode = "require"
	assert.Contains(t, DSN(cfg), "sslmode=require")
}

func TestEmbeddedMigrations_AreOrderedAndPaired(t *testing.T) {
	all := GetMigrations()
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "create_requests", all[0].Name)
	assert.Equal(t, "000002_create_failure_records", all[1].String())
	assert.Equal(t, "000003_failure_records_open_index", all[2].String())
	for _, m := range all {
		assert.NotEmpty(t, m.UpScript)
		assert.NotEmpty(t, m.DownScript)
	}
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"m/abc_broken.up.sql":   {Data: []byte("SELECT 1;")},
		"m/abc_broken.down.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestLoadMigrations_RequiresDownScript(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000001_only_up.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		mode    string
		runSQL  bool
		runAuto bool
		wantErr bool
	}{
		{"hybrid in development", "development", "", true, true, false},
		{"hybrid in production", "production", "hybrid", true, false, false},
		{"sql only", "development", "sql", true, false, false},
		{"auto in development", "development", "auto", false, true, false},
		{"auto refused in staging", "staging", "auto", false, false, true},
		{"unknown mode", "development", "magic", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runSQL, runAuto, err := schemaPolicy(&config.Config{Env: tt.env, DBSchemaMode: tt.mode})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, runSQL)
			assert.Equal(t, tt.runAuto, runAuto)
		})
	}
}

func TestApplySchema_AutoMode(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: NewGormLogger(logger.Silent)})
	require.NoError(t, err)

	err = ApplySchema(context.Background(), db, &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto})
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("requests"))
	assert.True(t, db.Migrator().HasTable("failure_records"))
}

func TestInspectTables_ReportsMissingLedgerIndex(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: NewGormLogger(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}

	before, err := InspectTables(ctx, db)
	require.NoError(t, err)
	require.Len(t, before, 2)
	for _, tbl := range before {
		assert.False(t, tbl.Exists, tbl.Name)
		assert.False(t, tbl.Ready(), tbl.Name)
	}

	require.NoError(t, ApplySchema(ctx, db, cfg))
	require.NoError(t, db.Create(&models.FailureRecord{ArtifactChannel: "c", LogType: "review"}).Error)

	status, err := GetSchemaStatus(ctx, db, cfg)
	require.NoError(t, err)
	require.Len(t, status.Tables, 2)
	for _, tbl := range status.Tables {
		assert.True(t, tbl.Ready(), "%s missing %v", tbl.Name, tbl.MissingIndexes)
	}
	assert.Equal(t, "failure_records", status.Tables[1].Name)
	assert.Equal(t, int64(1), status.Tables[1].Rows)

	require.NoError(t, db.Migrator().DropIndex(&models.FailureRecord{}, "idx_failure_open"))
	after, err := InspectTables(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"idx_failure_open"}, after[1].MissingIndexes)
}
