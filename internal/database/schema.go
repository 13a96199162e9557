package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lfgkeeper/internal/config"
	"lfgkeeper/internal/middleware"

	"gorm.io/gorm"
)

const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// engineIndexes are the indexes the engine's queries depend on. idx_failure_open backs the
// ledger's ON CONFLICT insert, which fails outright without it.
var engineIndexes = map[string][]string{
	"requests": {
		"idx_requests_owner",
		"idx_requests_scope_status",
		"idx_requests_created_at",
		"idx_requests_review_artifact_id",
		"idx_requests_public_artifact_id",
	},
	"failure_records": {"idx_failure_key", "idx_failure_open"},
}

// TableStatus describes one engine table.
type TableStatus struct {
	Name           string
	Exists         bool
	Rows           int64
	MissingIndexes []string
}

// Ready reports whether the table exists with every index the engine needs.
func (t TableStatus) Ready() bool {
	return t.Exists && len(t.MissingIndexes) == 0
}

// SchemaStatus summarises what ApplySchema would do for a config and what the database
// currently holds.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
	Tables             []TableStatus
}

type tabler interface {
	TableName() string
}

// InspectTables checks every persistent model's table and indexes.
func InspectTables(ctx context.Context, db *gorm.DB) ([]TableStatus, error) {
	migrator := db.WithContext(ctx).Migrator()
	out := make([]TableStatus, 0, len(PersistentModels()))
	for _, model := range PersistentModels() {
		t, ok := model.(tabler)
		if !ok {
			continue
		}
		st := TableStatus{Name: t.TableName(), Exists: migrator.HasTable(model)}
		if !st.Exists {
			st.MissingIndexes = append(st.MissingIndexes, engineIndexes[st.Name]...)
			out = append(out, st)
			continue
		}
		for _, idx := range engineIndexes[st.Name] {
			if !migrator.HasIndex(model, idx) {
				st.MissingIndexes = append(st.MissingIndexes, idx)
			}
		}
		if err := db.WithContext(ctx).Model(model).Count(&st.Rows).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", st.Name, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func isProdLikeEnv(env string) bool {
	e := strings.ToLower(strings.TrimSpace(env))
	return e == "production" || e == "prod" || e == "staging" || e == "stage"
}

func normalizedSchemaMode(cfg *config.Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	if mode == "" {
		return SchemaModeHybrid
	}
	return mode
}

func schemaPolicy(cfg *config.Config) (runSQL bool, runAuto bool, err error) {
	mode := normalizedSchemaMode(cfg)
	prodLike := isProdLikeEnv(cfg.Env)

	switch mode {
	case SchemaModeSQL:
		return true, false, nil
	case SchemaModeAuto:
		if prodLike {
			return false, false, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q; use sql or hybrid", cfg.Env)
		}
		return false, true, nil
	case SchemaModeHybrid:
		return true, !prodLike, nil
	default:
		return false, false, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// ApplySchema runs SQL migrations and/or AutoMigrate according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return err
	}

	if runSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}

	if runAuto {
		middleware.Logger.InfoContext(ctx, "Running GORM AutoMigrate", slog.String("mode", normalizedSchemaMode(cfg)), slog.String("env", cfg.Env))
		if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	tables, err := InspectTables(ctx, db)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if !t.Ready() {
			return fmt.Errorf("table %s not ready (exists=%t, missing indexes %v)", t.Name, t.Exists, t.MissingIndexes)
		}
	}
	return nil
}

// GetSchemaStatus reports applied and pending migrations without changing anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               normalizedSchemaMode(cfg),
		Environment:        cfg.Env,
		WillRunSQL:         runSQL,
		WillRunAutoMigrate: runAuto,
	}

	if status.Tables, err = InspectTables(ctx, db); err != nil {
		return nil, err
	}

	if !runSQL {
		return status, nil
	}

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	status.AppliedVersions = applied

	appliedSet := make(map[int]bool, len(applied))
	for _, version := range applied {
		appliedSet[version] = true
	}
	for _, m := range GetMigrations() {
		if !appliedSet[m.Version] {
			status.PendingMigrations = append(status.PendingMigrations, m)
		}
	}

	return status, nil
}
