package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS gateway_requests (
	id                  BIGSERIAL PRIMARY KEY,
	request_id          TEXT        NOT NULL,
	provider            TEXT        NOT NULL,
	model               TEXT        NOT NULL,
	local               BOOLEAN     NOT NULL,
	outcome             TEXT        NOT NULL,
	error_kind          TEXT        NOT NULL DEFAULT '',
	replacements        INTEGER     NOT NULL DEFAULT 0,
	extraction_degraded BOOLEAN     NOT NULL DEFAULT FALSE,
	duration_ns         BIGINT      NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS gateway_requests_created_at_idx ON gateway_requests (created_at DESC);`

// PostgresRecorder writes entries to PostgreSQL
type PostgresRecorder struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresRecorder connects, verifies the connection and ensures the
// table exists.
func NewPostgresRecorder(cfg config.AuditConfig, log *logger.Logger) (*PostgresRecorder, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	r := &PostgresRecorder{db: db, logger: log.WithComponent("audit")}

	if err := r.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	r.logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return r, nil
}

func (r *PostgresRecorder) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Record inserts one entry
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO gateway_requests
			(request_id, provider, model, local, outcome, error_kind, replacements, extraction_degraded, duration_ns, created_at)
		VALUES
			(:request_id, :provider, :model, :local, :outcome, :error_kind, :replacements, :extraction_degraded, :duration_ns, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		r.logger.Error("Failed to record audit entry", zap.Error(err), zap.String("request_id", e.RequestID))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []Entry
	query := `
		SELECT request_id, provider, model, local, outcome, error_kind, replacements,
		       extraction_degraded, duration_ns, created_at
		FROM gateway_requests
		ORDER BY created_at DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return entries, nil
}

func (r *PostgresRecorder) Close() error { return r.db.Close() }

// New returns the recorder selected by configuration.
func New(cfg config.AuditConfig, log *logger.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return NewMemoryRecorder(1000), nil
	}
	return NewPostgresRecorder(cfg, log)
}

func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "//") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
