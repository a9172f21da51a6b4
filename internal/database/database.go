// Package database provides database initialization and connection management.
// It uses GORM with SQLite for embedded storage. The connection is returned
// explicitly instead of held in a package singleton so the caller wires it
// through the pipeline environment.
package database

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// DefaultDBPath is the default database file path relative to the project root.
const DefaultDBPath = "./data/grepiku.db"

// Open opens the database at the given path and runs auto-migration.
// Pass ":memory:" for an in-memory database (tests).
func Open(dbPath string) (*gorm.DB, error) {
	logger.Info("Initializing database", zap.String("path", dbPath))

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to create database directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	if err := configureSQLite(db, dbPath); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// configureSQLite applies connection-pool and journal settings.
// SQLite allows a single writer, so the pool is kept small and WAL mode is
// enabled for concurrent readers.
func configureSQLite(db *gorm.DB, dbPath string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to get database connection", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if dbPath != ":memory:" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return errors.Wrap(errors.ErrCodeDBConnection, "failed to enable WAL mode", err)
		}
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to set busy timeout", err)
	}
	return nil
}

func migrate(db *gorm.DB) error {
	models := model.AllModels()
	if err := db.AutoMigrate(models...); err != nil {
		return errors.Wrap(errors.ErrCodeDBMigration, "failed to run database migrations", err)
	}
	logger.Info("Database migrations completed", zap.Int("models", len(models)))
	return nil
}

// Close closes the underlying database connection.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck performs a simple health check on the database.
func HealthCheck(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to get database connection", err)
	}
	return sqlDB.Ping()
}
