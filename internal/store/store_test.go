package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleEnvelope(runID string, completed time.Time) *envelope.Envelope {
	env := envelope.New(runID, "Compare CATL and BYD", "EV", []string{"research", "financial"})
	env.Record("research", envelope.ListFindings{Items: []string{"LFP gains share"}}, envelope.StatusCompleted)
	env.Record("financial", envelope.MetricsError("Financial", errors.New("panic: boom")), envelope.StatusFailed)
	_ = env.SetReport(envelope.ReportResult{ExecutiveSummary: "Summary " + runID, FullReport: "Summary\n\n- a", Recommendations: []string{"a"}})
	env.CompletedAt = completed
	return env
}

func TestFromEnvelope(t *testing.T) {
	env := sampleEnvelope("run-1", time.Unix(1700000000, 0).UTC())
	rec, err := FromEnvelope(env)
	require.NoError(t, err)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "EV", rec.Context)
	assert.Equal(t, "Summary run-1", rec.Report.ExecutiveSummary)
	require.Len(t, rec.Tasks, 2)
	assert.Equal(t, envelope.StatusFailed, rec.Tasks["financial"].Status)
	assert.True(t, rec.Tasks["financial"].Error)
	assert.False(t, rec.Tasks["research"].Error)
	assert.JSONEq(t, `{"kind":"findings","items":["LFP gains share"],"error":false}`, string(rec.Tasks["research"].Output))
}

func TestNopStore(t *testing.T) {
	s, err := NewFromConfig(context.Background(), config.StoreConfig{Driver: "none"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Record{RunID: "x"}))
	_, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewFromConfigUnknownDriver(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.StoreConfig{Driver: "mongo"}, nil)
	assert.Error(t, err)
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := circuitbreaker.NewRedisWrapper(client, "store-test", zaptest.NewLogger(t))
	s := NewRedisStore(rw, "", ttl, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Hour)

	rec, err := FromEnvelope(sampleEnvelope("run-1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, rec))

	assert.True(t, mr.Exists("analyst:report:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("analyst:report:run-1"))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Query, got.Query)
	assert.Equal(t, rec.Report, got.Report)
	assert.Equal(t, rec.Tasks["financial"].Status, got.Tasks["financial"].Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreListNewestFirstAndPrunes(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		rec, err := FromEnvelope(sampleEnvelope(id, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, rec))
	}

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].RunID)
	assert.Equal(t, "mid", list[1].RunID)
	assert.Equal(t, "Summary new", list[0].ExecutiveSummary)

	mr.Del("analyst:report:mid")
	list, err = s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"new", "old"}, []string{list[0].RunID, list[1].RunID})

	members, err := mr.ZMembers("analyst:report:index")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "new"}, members)
}

func newSQLStore(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analyst_reports")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_analyst_reports_completed_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	name := driverNames[driver]
	s, err := NewSQLStore(context.Background(), sqlx.NewDb(db, name), driver, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mock
}

func TestSQLStoreSavePostgresPlaceholders(t *testing.T) {
	s, mock := newSQLStore(t, "postgres")
	rec, err := FromEnvelope(sampleEnvelope("run-1", time.Now()))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO analyst_reports .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("run-1", "Compare CATL and BYD", "Summary run-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveSQLitePlaceholders(t *testing.T) {
	s, mock := newSQLStore(t, "sqlite")
	rec, err := FromEnvelope(sampleEnvelope("run-2", time.Now()))
	require.NoError(t, err)

	mock.ExpectExec(`VALUES \(\?, \?, \?, \?, \?, \?\)`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGet(t *testing.T) {
	s, mock := newSQLStore(t, "postgres")
	rec, err := FromEnvelope(sampleEnvelope("run-1", time.Now()))
	require.NoError(t, err)
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM analyst_reports WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM analyst_reports WHERE run_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Report, got.Report)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreList(t *testing.T) {
	s, mock := newSQLStore(t, "postgres")
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY completed_at DESC LIMIT $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "query", "executive_summary", "completed_at"}).
			AddRow("b", "q2", "s2", now).
			AddRow("a", "q1", "s1", now.Add(-time.Minute)))

	list, err := s.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Summary{RunID: "b", Query: "q2", ExecutiveSummary: "s2", CompletedAt: now}, list[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveError(t *testing.T) {
	s, mock := newSQLStore(t, "postgres")
	mock.ExpectExec("INSERT INTO analyst_reports").WillReturnError(errors.New("connection reset"))

	err := s.Save(context.Background(), Record{RunID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRedisStorePing(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	require.NoError(t, s.Ping(context.Background()))
	assert.False(t, s.BreakerOpen())

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
