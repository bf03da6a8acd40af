// Package archive persists finalized runs and their event streams to SQLite
// so transcripts can be rebuilt after the process that ran them is gone.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/transcript"

	_ "modernc.org/sqlite"
)

const instrumentationName = "github.com/fyrsmithlabs/themeagent/internal/archive"

const defaultListLimit = 50

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Service stores finalized runs.
type Service interface {
	// Save stores a run and its events, replacing any earlier record.
	Save(ctx context.Context, rec Record, evs []events.Event) error

	// Get retrieves a run by id.
	Get(ctx context.Context, runID string) (*Record, error)

	// Events retrieves the stored event stream of a run.
	Events(ctx context.Context, runID string) ([]events.Event, error)

	// List returns runs, newest first.
	List(ctx context.Context, req ListRequest) ([]*Record, error)

	// Delete removes a run.
	Delete(ctx context.Context, runID string) error

	// Close closes the service.
	Close() error
}

// service implements Service on SQLite.
type service struct {
	db     *sql.DB
	logger *logging.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the archive database at path. ":memory:" keeps the
// archive in process.
func Open(path string, logger *logging.Logger) (Service, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	s := &service{
		db:     db,
		logger: logger.Named("archive"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"themeagent.archive.saves_total",
		metric.WithDescription("Total number of runs archived"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create save counter", zap.Error(err))
	}
}

func (s *service) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		request TEXT NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		outcome TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		cost_cents REAL NOT NULL,
		event_count INTEGER NOT NULL,
		events TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *service) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save stores a run and its events.
func (s *service) Save(ctx context.Context, rec Record, evs []events.Event) error {
	ctx, span := s.tracer.Start(ctx, "archive.Save",
		trace.WithAttributes(
			attribute.String("run.id", rec.RunID),
			attribute.Int("run.events", len(evs)),
		))
	defer span.End()

	if rec.RunID == "" {
		return ErrInvalidID
	}
	outJSON, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	var buf bytes.Buffer
	if err := transcript.WriteJSONL(&buf, evs); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	query := `
	INSERT INTO runs (run_id, conversation_id, request, tier, status, outcome, iterations,
		cost_cents, event_count, events, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		request = excluded.request,
		tier = excluded.tier,
		status = excluded.status,
		outcome = excluded.outcome,
		iterations = excluded.iterations,
		cost_cents = excluded.cost_cents,
		event_count = excluded.event_count,
		events = excluded.events,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.ConversationID,
		rec.Request,
		rec.Tier,
		string(rec.Outcome.Status),
		string(outJSON),
		rec.Iterations,
		rec.CostCents,
		len(evs),
		buf.String(),
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save run: %w", err)
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(rec.Outcome.Status))))
	}
	s.logger.Debug(ctx, "run archived",
		zap.String("run_id", rec.RunID),
		zap.String("outcome", string(rec.Outcome.Status)),
		zap.Int("events", len(evs)))
	return nil
}

const recordColumns = `run_id, conversation_id, request, tier, outcome, iterations, cost_cents,
	event_count, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                   Record
		outJSON               string
		startedAt, finishedAt string
	)
	if err := row.Scan(&rec.RunID, &rec.ConversationID, &rec.Request, &rec.Tier, &outJSON,
		&rec.Iterations, &rec.CostCents, &rec.EventCount, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outJSON), &rec.Outcome); err != nil {
		return nil, fmt.Errorf("decode outcome of %s: %w", rec.RunID, err)
	}
	var err error
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at of %s: %w", rec.RunID, err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at of %s: %w", rec.RunID, err)
	}
	return &rec, nil
}

// Get retrieves a run by id.
func (s *service) Get(ctx context.Context, runID string) (*Record, error) {
	if runID == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// Events retrieves the stored event stream of a run.
func (s *service) Events(ctx context.Context, runID string) ([]events.Event, error) {
	if runID == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT events FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	evs, err := transcript.ReadJSONL(bytes.NewReader([]byte(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode events of %s: %w", runID, err)
	}
	return evs, nil
}

// List returns runs, newest first.
func (s *service) List(ctx context.Context, req ListRequest) ([]*Record, error) {
	ctx, span := s.tracer.Start(ctx, "archive.List")
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + recordColumns + ` FROM runs WHERE 1=1`
	var args []any
	if req.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, req.ConversationID)
	}
	if req.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(req.Status))
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Delete removes a run.
func (s *service) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
