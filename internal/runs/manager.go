// Package runs executes coordinator runs in the background and keeps them
// addressable by id while they are active and shortly after they finish.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/archive"
	"github.com/fyrsmithlabs/themeagent/internal/coordinator"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
)

// DefaultRetain is how many finished runs stay in memory.
const DefaultRetain = 64

var (
	// ErrNotFound is returned for unknown run ids.
	ErrNotFound = errors.New("run not found")

	// ErrShuttingDown is returned by Start after Shutdown began.
	ErrShuttingDown = errors.New("run manager is shutting down")
)

// Option configures a Manager.
type Option func(*Manager)

// WithArchive stores every finished run.
func WithArchive(a archive.Service) Option {
	return func(m *Manager) { m.archive = a }
}

// WithSink forwards every run's event stream to an external sink.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRetain sets how many finished runs stay addressable in memory.
func WithRetain(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retain = n
		}
	}
}

// Manager starts runs asynchronously and tracks them.
type Manager struct {
	coord   *coordinator.Coordinator
	archive archive.Service
	sink    events.Sink
	logger  *logging.Logger
	retain  int

	mu       sync.RWMutex
	active   map[string]*coordinator.Run
	finished map[string]*coordinator.Run
	order    []string
	closing  bool

	// base is cancelled by Shutdown once its grace period runs out.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a run manager over a coordinator.
func NewManager(coord *coordinator.Coordinator, opts ...Option) *Manager {
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		coord:    coord,
		logger:   logging.NewNop(),
		retain:   DefaultRetain,
		active:   make(map[string]*coordinator.Run),
		finished: make(map[string]*coordinator.Run),
		base:     base,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("runs")
	return m
}

// Start creates a run and executes it in the background. The returned run's
// bus can be subscribed to immediately; the event history is replayable.
func (m *Manager) Start(ctx context.Context, req coordinator.Request) (*coordinator.Run, error) {
	run, err := m.coord.NewRun(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.active[run.ID] = run
	m.wg.Add(1)
	m.mu.Unlock()

	// The run outlives the request that started it.
	runCtx := logging.WithRunID(m.base, run.ID)
	runCtx = logging.WithConversationID(runCtx, run.ConversationID)

	if m.sink != nil {
		sub := run.Bus().Subscribe(true)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			events.Forward(runCtx, sub, m.sink, m.logger)
		}()
	}

	m.logger.Info(ctx, "run started",
		zap.String("run_id", run.ID),
		zap.String("tier", string(run.Strategy.Tier)))

	go func() {
		defer m.wg.Done()
		out := m.coord.Execute(runCtx, run)
		m.finish(runCtx, run)
		m.logger.Debug(runCtx, "run retired", zap.String("outcome", string(out.Status)))
	}()
	return run, nil
}

// finish moves a run to the finished set and archives it.
func (m *Manager) finish(ctx context.Context, run *coordinator.Run) {
	m.mu.Lock()
	delete(m.active, run.ID)
	m.finished[run.ID] = run
	m.order = append(m.order, run.ID)
	for len(m.order) > m.retain {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
	m.mu.Unlock()

	if m.archive == nil {
		return
	}
	out, _ := run.Outcome()
	cost, _, _ := run.Usage()
	evs := run.Bus().History()
	rec := archive.Record{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Request:        run.Request.Text,
		Tier:           string(run.Strategy.Tier),
		Outcome:        out,
		Iterations:     run.Iterations(),
		CostCents:      cost,
		EventCount:     len(evs),
		StartedAt:      run.StartedAt,
		FinishedAt:     time.Now(),
	}
	if err := m.archive.Save(context.WithoutCancel(ctx), rec, evs); err != nil {
		m.logger.Error(ctx, "archiving run failed", zap.Error(err))
	}
}

// Get returns an active or recently finished run.
func (m *Manager) Get(id string) (*coordinator.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.active[id]; ok {
		return r, nil
	}
	if r, ok := m.finished[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Cancel requests cancellation of a run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(id, reason string) error {
	r, err := m.Get(id)
	if err != nil {
		return err
	}
	r.Cancel(reason)
	return nil
}

// Active returns the ids of runs still executing.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops accepting runs, cancels the active ones and waits for them
// to finalize. When ctx expires first the remaining runs are abandoned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	active := make([]*coordinator.Run, 0, len(m.active))
	for _, r := range m.active {
		active = append(active, r)
	}
	m.mu.Unlock()

	for _, r := range active {
		r.Cancel("server shutting down")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("waiting for %d runs: %w", len(active), ctx.Err())
	}
}
