// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"testing"
	"time"

	"nftdiarias/src/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		// sqlite compares times as text, so every stored time shares one offset
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %s", err.Error())
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %s", err.Error())
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %s", err.Error())
	}
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}
