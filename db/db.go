package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound will be handled in application logic, let's not forward this to zap/sentry
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options contains the configuration for the database connection
type Options struct {
	URI    string
	Logger *zap.Logger
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if option.URI == "" {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	db, err := Open(postgres.Open(option.URI), option.Logger)
	if err != nil {
		return nil, err
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(20)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Open connects through any gorm dialector with the zap backed gorm logger
func Open(dialector gorm.Dialector, logger *zap.Logger) (*gorm.DB, error) {
	gLogger := zapgorm2.Logger{
		ZapLogger:        logger,
		LogLevel:         gormlogger.Warn,
		SlowThreshold:    time.Second,
		SkipCallerLookup: false,
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &patchedLogger{
			Logger: gLogger,
		},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	return db, nil
}

// ForUpdate adds a row lock to the query on dialects that support it.
// SQLite serializes writers on its own.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// IsDuplicate reports whether err is a violated unique constraint
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
