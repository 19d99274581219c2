package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	queryIsRecorded = `SELECT EXISTS (SELECT 1 FROM earthquakes WHERE quake_id = $1)`

	queryRecord = `
		INSERT INTO earthquakes (quake_id, magnitude, depth_km, latitude, longitude, location, event_time, posted, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (quake_id) DO NOTHING`
)

// dbtx is the subset of pgxpool.Pool the store needs.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store persists the IDs of earthquakes that have been published.
type Store struct {
	db     dbtx
	close  func()
	logger *slog.Logger
}

// NewStore connects to Postgres and fails fast if the database is unreachable.
func NewStore(ctx context.Context, dbURL string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	// One poll loop plus readiness probes.
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: pool, close: pool.Close, logger: logger}, nil
}

// EnsureSchema creates the earthquakes table if needed. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// IsRecorded reports whether an earthquake with this ID has been published.
func (s *Store) IsRecorded(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("empty earthquake id")
	}
	var exists bool
	if err := s.db.QueryRow(ctx, queryIsRecorded, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup earthquake %s: %w", id, err)
	}
	return exists, nil
}

// Record persists a posted record. Recording an ID twice is a no-op.
func (s *Store) Record(ctx context.Context, rec domain.Record) error {
	if rec.ID == "" {
		return errors.New("empty earthquake id")
	}
	eventAt, err := rec.EventAt()
	if err != nil {
		return fmt.Errorf("record earthquake %s: event time: %w", rec.ID, err)
	}
	tag, err := s.db.Exec(ctx, queryRecord,
		rec.ID, rec.Magnitude, rec.Depth, rec.Latitude, rec.Longitude, rec.Location,
		eventAt, rec.Posted, rec.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("record earthquake %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("earthquake already recorded", "quake_id", rec.ID)
	}
	return nil
}

// Ping checks database connectivity for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}
