// Package dbtest opens isolated in-memory sqlite databases migrated with
// every model, for package tests that exercise real SQL.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/recapz-backend/pkg/db"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
)

// Open returns a fresh database named after prefix. The pool is capped at one
// connection so concurrent writers queue instead of failing with a locked
// table.
func Open(t testing.TB, prefix string) *gorm.DB {
	t.Helper()
	dsn := "file:" + prefix + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate models: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client.
func Client(t testing.TB, prefix string) *db.Client {
	t.Helper()
	return db.Wrap(Open(t, prefix))
}
