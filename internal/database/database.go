package database

import (
	"context"
	"strings"
	"time"

	"example.com/backstage/services/library/config"
	"example.com/backstage/services/library/internal/metrics"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	Primary() *gorm.DB
	ReadOnly() *gorm.DB
	Ping(ctx context.Context) error
	Close() error
}

// GormDatabase holds the write connection and the read-only replica connection
type GormDatabase struct {
	primary  *gorm.DB
	readOnly *gorm.DB
}

// Connect opens the primary database and, when a distinct read-only DSN is
// configured, the replica. Both share pool settings and metric hooks.
func Connect(cfg config.DatabaseConfig, m *metrics.Metrics) (*GormDatabase, error) {
	primary, err := open(cfg, cfg.DSN, m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	readOnly := primary
	if cfg.ReadOnlyDSN != "" && cfg.ReadOnlyDSN != cfg.DSN {
		readOnly, err = open(cfg, cfg.ReadOnlyDSN, m)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to read-only database")
		}
	}

	log.Info().
		Str("driver", cfg.Driver).
		Bool("replica", readOnly != primary).
		Msg("Connected to database")

	return &GormDatabase{primary: primary, readOnly: readOnly}, nil
}

func open(cfg config.DatabaseConfig, dsn string, m *metrics.Metrics) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewLogger(cfg.Debug),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DB instance")
	}

	// Zero keeps the database/sql default
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if m != nil {
		if err := RegisterMetricsHooks(db, m); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Dialector picks the gorm dialector for the configured driver
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
}

// Primary returns the write connection
func (d *GormDatabase) Primary() *gorm.DB {
	return d.primary
}

// ReadOnly returns the replica connection, or the primary when none is configured
func (d *GormDatabase) ReadOnly() *gorm.DB {
	return d.readOnly
}

// Ping checks the primary connection
func (d *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := d.primary.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes both connections
func (d *GormDatabase) Close() error {
	if d.readOnly != d.primary {
		if sqlDB, err := d.readOnly.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close read-only database")
			}
		}
	}

	sqlDB, err := d.primary.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsRecordNotFoundError checks if an error is a record not found error
func IsRecordNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// NewLogger returns a gorm logger that writes through zerolog
func NewLogger(debug bool) logger.Interface {
	logLevel := logger.Error
	level := zerolog.WarnLevel
	if debug {
		logLevel = logger.Info
		level = zerolog.DebugLevel
	}

	return logger.New(
		&logAdapter{level: level},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// logAdapter adapts the GORM logger to zerolog
type logAdapter struct {
	level zerolog.Level
}

func (l *logAdapter) Printf(format string, args ...interface{}) {
	log.WithLevel(l.level).Str("component", "gorm").Msgf(format, args...)
}
