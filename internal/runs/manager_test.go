package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/clock/system"
	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/pipeline"
	"github.com/JakeFAU/prodscout/internal/progress"
)

type runnerFunc func(ctx context.Context, req pipeline.Request, hooks pipeline.Hooks) (pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request, hooks pipeline.Hooks) (pipeline.Result, error) {
	return f(ctx, req, hooks)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func (r *recordingEmitter) last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func waitStatus(t *testing.T, m *Manager, id uuid.UUID, want discovery.RunStatus) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := m.Get(id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestManagerRunLifecycle(t *testing.T) {
	t.Parallel()

	record := discovery.RepositoryRecord{RepoURL: "https://github.com/acme/widget", Score: 27}
	var gotRunID string
	runner := runnerFunc(func(_ context.Context, req pipeline.Request, hooks pipeline.Hooks) (pipeline.Result, error) {
		gotRunID = req.RunID
		hooks.Progress(pipeline.Update{Milestone: pipeline.MilestoneStart, Step: "Initializing search...", Total: 100})
		hooks.Progress(pipeline.Update{Milestone: pipeline.MilestoneSearched, Found: 3})
		hooks.Progress(pipeline.Update{
			Milestone: pipeline.MilestoneRepository,
			Current:   1,
			Total:     1,
			RepoURL:   record.RepoURL,
			Outcome:   discovery.RepoPersisted,
			Score:     27,
		})
		hooks.Progress(pipeline.Update{Milestone: pipeline.MilestoneDone, Current: 100, Total: 100})
		return pipeline.Result{
			Status:       discovery.RunCompleted,
			Records:      []discovery.RepositoryRecord{record},
			Candidates:   3,
			Repositories: 1,
			Outcomes:     map[discovery.RepoState]int{discovery.RepoPersisted: 1},
			ExportURI:    "memory://runs/x/repositories.csv",
		}, nil
	})
	events := &recordingEmitter{}
	m := NewManager(Config{}, runner, events, system.NewFixed(time.Unix(1700000000, 0)), nil)

	snap, err := m.Start(pipeline.Request{Queries: []string{"q"}})
	require.NoError(t, err)
	require.Equal(t, discovery.RunPending, snap.Status)
	require.Equal(t, discovery.ModeDork, snap.Mode)

	final := waitStatus(t, m, snap.ID, discovery.RunCompleted)
	require.Equal(t, snap.ID.String(), gotRunID)
	require.Equal(t, 1, final.Processed)
	require.Equal(t, 3, final.Candidates)
	require.Equal(t, []discovery.RepositoryRecord{record}, final.Records)
	require.Equal(t, "memory://runs/x/repositories.csv", final.ExportURI)
	require.NotNil(t, final.FinishedAt)

	require.Eventually(t, func() bool { return len(events.stages()) == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []progress.Stage{
		progress.StageRunStart, progress.StageSearchDone, progress.StageRepoDone, progress.StageRunDone,
	}, events.stages())
	last := events.last()
	require.Equal(t, 1, last.Processed)
	require.Equal(t, 1, last.Total)
	for _, e := range events.events {
		require.NoError(t, e.Validate())
	}
}

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ pipeline.Request, hooks pipeline.Hooks) (pipeline.Result, error) {
		hooks.Progress(pipeline.Update{Milestone: pipeline.MilestoneStart})
		close(started)
		for !hooks.Cancelled() {
			select {
			case <-ctx.Done():
				return pipeline.Result{}, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		return pipeline.Result{Status: discovery.RunCancelled}, nil
	})
	events := &recordingEmitter{}
	m := NewManager(Config{}, runner, events, nil, nil)

	snap, err := m.Start(pipeline.Request{})
	require.NoError(t, err)
	<-started

	got, err := m.Cancel(snap.ID)
	require.NoError(t, err)
	require.True(t, got.CancelRequested)

	final := waitStatus(t, m, snap.ID, discovery.RunCancelled)
	require.True(t, final.CancelRequested)

	_, err = m.Cancel(snap.ID)
	require.ErrorIs(t, err, ErrFinished)
	require.Eventually(t, func() bool {
		return events.last().Stage == progress.StageRunCancelled
	}, time.Second, 5*time.Millisecond)
}

func TestManagerRunFailure(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(context.Context, pipeline.Request, pipeline.Hooks) (pipeline.Result, error) {
		return pipeline.Result{Status: discovery.RunFailed}, errors.New("persistence failure: disk full")
	})
	events := &recordingEmitter{}
	m := NewManager(Config{}, runner, events, nil, nil)

	snap, err := m.Start(pipeline.Request{})
	require.NoError(t, err)
	final := waitStatus(t, m, snap.ID, discovery.RunFailed)
	require.Equal(t, "persistence failure: disk full", final.Error)
	require.Eventually(t, func() bool { return len(events.stages()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, progress.StageRunError, events.last().Stage)
	require.Equal(t, "persistence failure: disk full", events.last().Note)
}

func TestManagerRetention(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(context.Context, pipeline.Request, pipeline.Hooks) (pipeline.Result, error) {
		return pipeline.Result{Status: discovery.RunCompleted}, nil
	})
	m := NewManager(Config{Retention: 20 * time.Millisecond}, runner, nil, nil, nil)

	snap, err := m.Start(pipeline.Request{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := m.Get(snap.ID)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, m.List())
}

func TestManagerUnknownRun(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil, nil, nil, nil)
	_, err := m.Get(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Cancel(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerListNewestFirst(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ pipeline.Request, _ pipeline.Hooks) (pipeline.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return pipeline.Result{Status: discovery.RunCompleted}, nil
	})
	clock := system.NewFixed(time.Unix(1700000000, 0))
	m := NewManager(Config{}, runner, nil, clock, nil)

	first, err := m.Start(pipeline.Request{})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.Start(pipeline.Request{Mode: discovery.ModeGitHub, Query: "x"})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, first.ID, list[1].ID)
	require.Equal(t, discovery.ModeGitHub, list[0].Mode)
	close(release)
}

func TestManagerShutdown(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(ctx context.Context, _ pipeline.Request, _ pipeline.Hooks) (pipeline.Result, error) {
		<-ctx.Done()
		return pipeline.Result{Status: discovery.RunCancelled}, nil
	})
	m := NewManager(Config{}, runner, nil, nil, nil)
	_, err := m.Start(pipeline.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.Start(pipeline.Request{})
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestManagerShutdownTimeoutStopsRunLoops(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	runner := runnerFunc(func(context.Context, pipeline.Request, pipeline.Hooks) (pipeline.Result, error) {
		<-release
		return pipeline.Result{Status: discovery.RunCompleted}, nil
	})
	m := NewManager(Config{}, runner, nil, nil, nil)
	_, err := m.Start(pipeline.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-m.stop:
	default:
		t.Fatal("stop channel must be closed after a timed out shutdown")
	}
	close(release)
}
