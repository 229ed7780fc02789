// Package store archives finished runs so they can be listed and fetched
// after the envelope has been returned to the caller.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("report not found")

// Store persists finished runs.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (Record, error)
	// List returns the most recently completed runs first.
	List(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// TaskRecord is one task's archived result.
type TaskRecord struct {
	Status envelope.TaskStatus `json:"status"`
	Error  bool                `json:"error"`
	Output json.RawMessage     `json:"output,omitempty"`
}

// Record is the archived form of an envelope.
type Record struct {
	RunID       string                `json:"run_id"`
	Query       string                `json:"query"`
	Context     string                `json:"context,omitempty"`
	Report      envelope.ReportResult `json:"report"`
	Tasks       map[string]TaskRecord `json:"tasks"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Summary is the listing view of a Record.
type Summary struct {
	RunID            string    `json:"run_id" db:"run_id"`
	Query            string    `json:"query" db:"query"`
	ExecutiveSummary string    `json:"executive_summary" db:"executive_summary"`
	CompletedAt      time.Time `json:"completed_at" db:"completed_at"`
}

func (r Record) Summary() Summary {
	return Summary{
		RunID:            r.RunID,
		Query:            r.Query,
		ExecutiveSummary: r.Report.ExecutiveSummary,
		CompletedAt:      r.CompletedAt,
	}
}

// FromEnvelope converts a finished run for archiving.
func FromEnvelope(env *envelope.Envelope) (Record, error) {
	rec := Record{
		RunID:       env.RunID,
		Query:       env.Query,
		Context:     env.Context,
		Tasks:       make(map[string]TaskRecord, len(env.TaskStatuses)),
		StartedAt:   env.StartedAt,
		CompletedAt: env.CompletedAt,
	}
	if env.Report != nil {
		rec.Report = *env.Report
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	for name, status := range env.TaskStatuses {
		tr := TaskRecord{Status: status}
		if out, ok := env.Output(name); ok {
			b, err := out.MarshalJSON()
			if err != nil {
				return Record{}, fmt.Errorf("encode %s output: %w", name, err)
			}
			tr.Output = b
			tr.Error = out.IsError()
		}
		rec.Tasks[name] = tr
	}
	return rec, nil
}

// NopStore discards everything.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error           { return nil }
func (NopStore) Get(context.Context, string) (Record, error)  { return Record{}, ErrNotFound }
func (NopStore) List(context.Context, int) ([]Summary, error) { return []Summary{}, nil }
func (NopStore) Close() error                                 { return nil }

// NewFromConfig opens the store selected by cfg.Driver.
func NewFromConfig(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "none":
		return NopStore{}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rw := circuitbreaker.NewRedisWrapper(client, "store", logger)
		if err := rw.Ping(ctx); err != nil {
			_ = rw.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(rw, cfg.KeyPrefix, cfg.TTL, logger), nil
	case "postgres", "sqlite":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
