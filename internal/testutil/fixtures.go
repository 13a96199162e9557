// Package testutil provides shared test doubles and fixtures for engine tests.
package testutil

import (
	"testing"
	"time"

	"lfgkeeper/internal/catalog"
	"lfgkeeper/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Scope and Domain used by the fixture catalog.
const (
	Scope  = "guild-1"
	Domain = "valorant"
)

// SQLiteDB opens a migrated in-memory database that is closed when the test ends.
func SQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// A single connection keeps every goroutine on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Request{}, &models.FailureRecord{}))
	return db
}

// Catalog returns a catalog with one schema for Scope/Domain and both destinations.
func Catalog(t testing.TB) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]models.DomainSchema{
			{
				Category: models.CategorySeekingMembers,
				Domain:   Domain,
				Fields: []models.FieldDescriptor{
					{ID: "rank", Label: "Rank", Required: true, MaxLength: 32},
					{ID: "notes", Label: "Notes", MaxLength: 200},
				},
			},
			{
				Category: models.CategorySeekingPlacement,
				Domain:   Domain,
				Fields: []models.FieldDescriptor{
					{ID: "rank", Label: "Rank", Required: true, MaxLength: 32},
				},
			},
		},
		[]catalog.Destination{
			{Scope: Scope, Kind: models.ArtifactReview, Channel: "mod-queue"},
			{Scope: Scope, Domain: Domain, Kind: models.ArtifactPublic, Channel: "lfg-valorant"},
		},
	)
	require.NoError(t, err)
	return c
}
