// internal/storage/storage.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/hedge-bot/internal/storage/models"
)

// Config selects the database. A DSN starting with postgres:// (or a
// key=value string containing host=) opens Postgres; anything else is
// treated as a SQLite file path.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
	LogLevel        string        `mapstructure:"log_level"`
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Dialect is "postgres" or "sqlite".
func (c Config) Dialect() string {
	dsn := strings.TrimSpace(c.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store persists hedge results and the event audit log.
type Store struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

// Open connects, tunes the pool and runs migrations.
func Open(cfg Config, zapLogger *zap.Logger) (*Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("storage: dsn is empty")
	}
	dialect := cfg.Dialect()

	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	gormLog := newGormLogger(zapLogger.Named("gorm"), parseLogLevel(cfg.LogLevel), cfg.SlowQuery)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if dialect == "sqlite" {
		// sqlite allows a single writer
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: db, dialect: dialect, logger: zapLogger}
	if err := s.RunMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	zapLogger.Info("Storage opened", zap.String("dialect", dialect))
	return s, nil
}

// RunMigrations creates or updates the schema. On Postgres an advisory lock
// keeps two instances from migrating at once.
func (s *Store) RunMigrations() error {
	if s.dialect == "postgres" {
		var lockObtained bool
		if err := s.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return errors.New("another migration is in progress")
		}
		defer s.db.Exec("SELECT pg_advisory_unlock(101)")
	}

	if err := s.db.AutoMigrate(&models.HedgeRecord{}, &models.EventRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Dialect returns the active database dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
