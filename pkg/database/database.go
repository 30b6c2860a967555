package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	DSN             string        `split_words:"true" required:"true"`
	MaxOpenConns    int           `split_words:"true" default:"25"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"5m"`
	Timeout         time.Duration `split_words:"true" default:"5s"`
	SlowQuery       time.Duration `split_words:"true" default:"500ms"`
}

// Open connects to Postgres through pgdriver and verifies the connection.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(NewQueryLogger(log.Logger, cfg.SlowQuery))

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// QueryLogger logs failed queries and queries slower than a threshold.
type QueryLogger struct {
	logger zerolog.Logger
	slow   time.Duration
}

var _ bun.QueryHook = (*QueryLogger)(nil)

func NewQueryLogger(logger zerolog.Logger, slow time.Duration) *QueryLogger {
	return &QueryLogger{logger: logger, slow: slow}
}

func (h *QueryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case event.Err != nil && event.Err != sql.ErrNoRows:
		h.logger.Warn().Err(event.Err).Str("operation", event.Operation()).Dur("elapsed", elapsed).Msg("query failed")
	case h.slow > 0 && elapsed > h.slow:
		h.logger.Warn().Str("operation", event.Operation()).Dur("elapsed", elapsed).Str("query", event.Query).Msg("slow query")
	default:
		h.logger.Debug().Str("operation", event.Operation()).Dur("elapsed", elapsed).Msg("query")
	}
}
