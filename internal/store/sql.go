package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `CREATE TABLE IF NOT EXISTS analyst_reports (
	run_id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	executive_summary TEXT NOT NULL,
	payload TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS idx_analyst_reports_completed_at ON analyst_reports (completed_at)`

const upsertReport = `INSERT INTO analyst_reports (run_id, query, executive_summary, payload, started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	query = excluded.query,
	executive_summary = excluded.executive_summary,
	payload = excluded.payload,
	started_at = excluded.started_at,
	completed_at = excluded.completed_at`

const selectPayload = `SELECT payload FROM analyst_reports WHERE run_id = ?`

const selectRecent = `SELECT run_id, query, executive_summary, completed_at FROM analyst_reports ORDER BY completed_at DESC LIMIT ?`

// driverNames maps config drivers to database/sql driver names.
var driverNames = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite3",
}

// SQLStore archives records in a single table. Placeholders are rebound
// for the underlying driver.
type SQLStore struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	driver string
	logger *zap.Logger
}

// OpenSQL connects to dsn and ensures the schema exists.
func OpenSQL(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "postgres" {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// go-sqlite3 serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s, err := NewSQLStore(ctx, db, driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open connection and creates the schema if needed.
func NewSQLStore(ctx context.Context, db *sqlx.DB, driver string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("database-"+driver, circuitbreaker.ConfigFor(circuitbreaker.ServiceDatabase), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("database-"+driver, "store", cb)

	s := &SQLStore{db: db, cb: cb, driver: driver, logger: logger}
	for _, stmt := range []string{schema, schemaIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("Report store ready", zap.String("driver", driver))
	return s, nil
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = s.cb.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertReport),
			rec.RunID, rec.Query, rec.Report.ExecutiveSummary, string(payload),
			rec.StartedAt.UTC(), rec.CompletedAt.UTC())
		return err
	})
	metrics.RecordStore(s.driver, err)
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (Record, error) {
	var (
		payload string
		missing bool
	)
	err := s.cb.Execute(ctx, func() error {
		err := s.db.GetContext(ctx, &payload, s.db.Rebind(selectPayload), runID)
		if errors.Is(err, sql.ErrNoRows) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", runID, err)
	}
	if missing {
		return Record{}, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", runID, err)
	}
	return rec, nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Summary, error) {
	out := []Summary{}
	if limit <= 0 {
		return out, nil
	}
	err := s.cb.Execute(ctx, func() error {
		return s.db.SelectContext(ctx, &out, s.db.Rebind(selectRecent), limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BreakerOpen reports whether store calls are currently short-circuited.
func (s *SQLStore) BreakerOpen() bool {
	return s.cb.IsOpen()
}
