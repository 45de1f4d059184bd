// Package testutil provides the shared Postgres test harness used by
// every repo-layer _test.go file: a process-wide *gorm.DB pointed at
// TEST_POSTGRES_DSN, and a per-test transaction that is always rolled
// back so tests never leak state into each other.
package testutil

import (
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/globaltrial/registry-pipeline/internal/db"
	"github.com/globaltrial/registry-pipeline/internal/platform/envutil"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
)

var (
	once    sync.Once
	sharedDB *gorm.DB
	sharedLog *logger.Logger
)

func Logger(tb testing.TB) *logger.Logger {
	once.Do(func() {
		l, err := logger.New("development")
		if err != nil {
			tb.Fatalf("init test logger: %v", err)
		}
		sharedLog = l
	})
	return sharedLog
}

// DB returns a shared *gorm.DB connected to TEST_POSTGRES_DSN, skipping
// the test if that env var is unset. Schema is migrated once per
// process.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := envutil.String("TEST_POSTGRES_DSN", "")
	if dsn == "" {
		tb.Skip("TEST_POSTGRES_DSN not set; skipping Postgres-backed test")
	}

	var openErr error
	once.Do(func() {
		l, err := logger.New("development")
		if err != nil {
			openErr = err
			return
		}
		sharedLog = l

		gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			openErr = err
			return
		}
		if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			openErr = err
			return
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			openErr = err
			return
		}
		sharedDB = gdb
	})
	if openErr != nil {
		tb.Fatalf("open test db: %v", openErr)
	}
	if sharedDB == nil {
		tb.Skip("test db unavailable")
	}
	return sharedDB
}

// Tx begins a transaction on the shared DB and registers a cleanup
// that rolls it back, so every test starts from a clean slate without
// needing to truncate tables.
func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	tb.Cleanup(func() {
		tx.Rollback()
	})
	return tx
}
