package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Count() int {
	n := 0
	for _, b := range s.Batches() {
		n += len(b)
	}
	return n
}

func sampleEvent(stage Stage) Event {
	return Event{RunID: uuid.New(), TS: time.Now(), Stage: stage, Step: "step"}
}

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageSearchDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubBatchByInterval(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 10, MaxBatchWait: 10 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool { return sink.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	for i := 0; i < 100; i++ {
		hub.Emit(sampleEvent(StageRunStart))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHubFlushesAndClosesSinksOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	for i := 0; i < 3; i++ {
		hub.Emit(sampleEvent(StageFetchStart))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 3, sink.Count())
	require.True(t, sink.closed)

	hub.Emit(sampleEvent(StageRunDone))
	require.Equal(t, 3, sink.Count(), "emit after close is ignored")
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(Event{RunID: uuid.New(), TS: time.Now(), Stage: StageRepoDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, sink.Count())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ok := sampleEvent(StageRepoDone)
	ok.RepoURL = "https://github.com/a/b"
	ok.Outcome = "PERSISTED"
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Stage = "NOPE"
	require.Error(t, bad.Validate())

	bad = ok
	bad.Processed = -1
	require.Error(t, bad.Validate())

	bad = ok
	bad.TS = time.Time{}
	require.Error(t, bad.Validate())

	require.True(t, StageRunCancelled.Terminal())
	require.False(t, StageRepoDone.Terminal())
}
