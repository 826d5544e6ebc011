// Package persistence archives completed conversation turns. The core
// pipeline stays fully in-memory; this layer is observational only.
package persistence

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options selects the database driver and location.
type Options struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// Open connects per opts and migrates the archive schema.
func Open(opts Options, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "sqlite", "":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "pocketportal.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("message archive ready", zap.String("driver", opts.Driver))
	return db, nil
}
