package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akmatori/nocpilot/internal/logging"
)

// Config selects the audit database
type Config struct {
	// Driver is "postgres" or "sqlite"
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"`
}

// Enabled reports whether an audit database is configured
func (c Config) Enabled() bool {
	return c.DSN != ""
}

// Open opens the database described by cfg without touching the global instance
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(ParseLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logging.Infof("Database connection established (%s)", dialectName(cfg.Driver))
	return db, nil
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	logging.Infof("Running database migrations...")
	if err := db.AutoMigrate(&ApprovalRecord{}, &ActionRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logging.Infof("Database migrations completed successfully")
	return nil
}

// Close releases the connection pool behind db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ParseLogLevel maps silent|error|warn|info to a gorm log level, defaulting to warn
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

func dialectName(driver string) string {
	if driver == "" {
		return "postgres"
	}
	return strings.ToLower(driver)
}
