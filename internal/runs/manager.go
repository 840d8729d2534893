// Package runs tracks asynchronous pipeline runs started through the API.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/clock/system"
	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/pipeline"
	"github.com/JakeFAU/prodscout/internal/progress"
)

// DefaultRetention is how long terminal runs stay inspectable.
const DefaultRetention = time.Hour

var (
	// ErrNotFound is returned for unknown or expired run ids.
	ErrNotFound = errors.New("run not found")
	// ErrFinished is returned when cancelling a terminal run.
	ErrFinished = errors.New("run already finished")
	// ErrShuttingDown is returned by Start after Shutdown.
	ErrShuttingDown = errors.New("run manager shutting down")
)

// Runner executes a pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, hooks pipeline.Hooks) (pipeline.Result, error)
}

// Config controls the Manager.
type Config struct {
	Retention time.Duration
}

// Manager starts runs in the background and serves their snapshots.
type Manager struct {
	cfg    Config
	runner Runner
	events progress.Emitter
	clock  discovery.Clock
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	runs   map[uuid.UUID]*Run
}

// NewManager builds a Manager. events may be nil.
func NewManager(cfg Config, runner Runner, events progress.Emitter, clock discovery.Clock, logger *zap.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		runner: runner,
		events: events,
		clock:  clock,
		logger: logger.Named("runs"),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		runs:   make(map[uuid.UUID]*Run),
	}
}

// Start registers a run for req and executes it in the background.
func (m *Manager) Start(req pipeline.Request) (Snapshot, error) {
	id := uuid.New()
	req.RunID = id.String()
	if req.Mode == "" {
		req.Mode = discovery.ModeDork
	}
	snap := Snapshot{
		ID:        id,
		Status:    discovery.RunPending,
		Mode:      req.Mode,
		CreatedAt: m.clock.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrShuttingDown
	}
	run := newRun(id, snap, m.cfg.Retention, m.stop, func() { m.remove(id) })
	m.runs[id] = run
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(run, req, snap.CreatedAt)
	return snap, nil
}

func (m *Manager) execute(run *Run, req pipeline.Request, started time.Time) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("run_id", req.RunID))
	hooks := pipeline.Hooks{
		Progress: func(u pipeline.Update) {
			run.send(progressMsg{update: u})
			if evt, ok := m.event(run.id, u); ok {
				m.events.Emit(evt)
			}
		},
		Cancelled: run.Cancelled,
	}

	res, err := m.runner.Run(m.ctx, req, hooks)
	finished := m.clock.Now()
	if err != nil {
		log.Warn("run failed", zap.Error(err))
	}
	run.send(finishMsg{result: res, err: err, at: finished})

	stage := progress.StageRunDone
	note := ""
	switch {
	case err != nil:
		stage, note = progress.StageRunError, err.Error()
	case res.Status == discovery.RunCancelled:
		stage = progress.StageRunCancelled
	}
	m.emit(progress.Event{
		RunID:     run.id,
		TS:        finished,
		Stage:     stage,
		Step:      string(stage),
		Processed: sumOutcomes(res.Outcomes),
		Total:     res.Repositories,
		Dur:       finished.Sub(started),
		Note:      note,
	})
}

// event maps a pipeline update onto the progress stream. Exporting and done
// updates have no event; the terminal event is emitted once the run returns.
func (m *Manager) event(id uuid.UUID, u pipeline.Update) (progress.Event, bool) {
	if m.events == nil {
		return progress.Event{}, false
	}
	evt := progress.Event{RunID: id, TS: m.clock.Now(), Step: u.Step}
	switch u.Milestone {
	case pipeline.MilestoneStart:
		evt.Stage = progress.StageRunStart
	case pipeline.MilestoneSearched:
		evt.Stage, evt.Total = progress.StageSearchDone, u.Found
	case pipeline.MilestoneFetching:
		evt.Stage, evt.Total = progress.StageFetchStart, u.Found
	case pipeline.MilestoneRepository:
		evt.Stage = progress.StageRepoDone
		evt.Processed, evt.Total = u.Current, u.Total
		evt.RepoURL, evt.Outcome, evt.Score = u.RepoURL, string(u.Outcome), u.Score
	default:
		return progress.Event{}, false
	}
	return evt, true
}

func (m *Manager) emit(evt progress.Event) {
	if m.events != nil {
		m.events.Emit(evt)
	}
}

func sumOutcomes(outcomes map[discovery.RepoState]int) int {
	n := 0
	for _, c := range outcomes {
		n += c
	}
	return n
}

func (m *Manager) remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
}

func (m *Manager) lookup(id uuid.UUID) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// Get returns the snapshot of run id.
func (m *Manager) Get(id uuid.UUID) (Snapshot, error) {
	run, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap, ok := run.Snapshot()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// Cancel requests cooperative cancellation of run id.
func (m *Manager) Cancel(id uuid.UUID) (Snapshot, error) {
	run, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap, ok := run.Snapshot()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if snap.Status.Terminal() {
		return snap, fmt.Errorf("cancel %s: %w", id, ErrFinished)
	}
	run.cancelled.Store(true)
	run.send(cancelMsg{})
	snap.CancelRequested = true
	m.logger.Info("run cancel requested", zap.String("run_id", id.String()))
	return snap, nil
}

// List returns the snapshots of every retained run, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	active := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		active = append(active, run)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(active))
	for _, run := range active {
		if snap, ok := run.Snapshot(); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Shutdown cancels in-flight runs and waits for them to return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, run := range m.runs {
		run.cancelled.Store(true)
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	// Run loops exit on stop even when stragglers outlive ctx.
	defer m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}
