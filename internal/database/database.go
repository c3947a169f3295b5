package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// NormalizeDSN makes sure the DSN parses DATETIME columns into time.Time
// and stores them in UTC.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Open creates a connection pool for dsn and waits until the server answers,
// retrying while the database container is still starting.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	// 1. --- Normalise the DSN ---
	dsn, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	// 2. --- Open the pool ---
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 3. --- Ping with retries ---
	for i := 1; i <= connectAttempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			log.Info().Msg("database connection pool established")
			return db, nil
		}

		log.Warn().Err(err).Int("attempt", i).Msg("database not reachable, retrying")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}

	db.Close()
	return nil, fmt.Errorf("connect to database after %d attempts: %w", connectAttempts, err)
}
