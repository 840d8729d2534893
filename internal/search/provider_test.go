package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

type fakeBackend struct {
	name  string
	links []string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(_ context.Context, _ string, _ int) ([]string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.links...), nil
}

func TestProviderUsesPrimary(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", links: []string{"https://a.repl.co/?x=1#top", "https://example.com/page"}}
	fallback := &fakeBackend{name: "fallback"}
	p := NewProvider(Config{Hosts: DefaultHosts}, primary, fallback, zap.NewNop())
	defer p.Close()

	got, err := p.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.repl.co/"}, got)
	require.Equal(t, int32(0), fallback.calls.Load())
}

func TestProviderFallsBackOnError(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", err: errors.New("quota")}
	fallback := &fakeBackend{name: "fallback", links: []string{"https://b.replit.app/"}}
	p := NewProvider(Config{Hosts: DefaultHosts}, primary, fallback, zap.NewNop())
	defer p.Close()

	got, err := p.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b.replit.app/"}, got)
	require.Equal(t, int32(1), fallback.calls.Load())
}

func TestProviderFallsBackWhenCredentialMissing(t *testing.T) {
	t.Parallel()

	fallback := &fakeBackend{name: "fallback", links: []string{"https://c.repl.co/"}}
	p := NewProvider(Config{}, nil, fallback, zap.NewNop())
	defer p.Close()

	got, err := p.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://c.repl.co/"}, got)
}

func TestProviderBothFail(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", err: errors.New("primary down")}
	fallback := &fakeBackend{name: "fallback", err: errors.New("fallback down")}
	p := NewProvider(Config{}, primary, fallback, zap.NewNop())
	defer p.Close()

	_, err := p.Search(context.Background(), "q", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "primary down")
	require.Contains(t, err.Error(), "fallback down")
}

func TestProviderMissingCredentialWithoutFallback(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, nil, nil, zap.NewNop())
	_, err := p.Search(context.Background(), "q", 10)
	require.ErrorIs(t, err, discovery.ErrConfigurationMissing)
}

func TestProviderFallbackIsBounded(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	fallback := &gaugeBackend{
		before: func() {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
		},
		after: func() {
			mu.Lock()
			active--
			mu.Unlock()
		},
	}
	primary := &fakeBackend{name: "primary", err: errors.New("down")}
	p := NewProvider(Config{FallbackWorkers: 2}, primary, fallback, zap.NewNop())
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Search(context.Background(), "q", 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, maxSeen, 2)
}

type gaugeBackend struct {
	before func()
	after  func()
}

func (*gaugeBackend) Name() string { return "gauge" }

func (g *gaugeBackend) Search(context.Context, string, int) ([]string, error) {
	g.before()
	time.Sleep(20 * time.Millisecond)
	g.after()
	return []string{"https://x.repl.co/"}, nil
}

func TestCandidateURL(t *testing.T) {
	t.Parallel()

	got, ok := CandidateURL("https://demo.user.repl.co/path?q=1#frag", DefaultHosts)
	require.True(t, ok)
	require.Equal(t, "https://demo.user.repl.co/path", got)

	got, ok = CandidateURL("https://replit.com/@user/app", DefaultHosts)
	require.True(t, ok)
	require.Equal(t, "https://replit.com/@user/app", got)

	_, ok = CandidateURL("https://notreplit.com/x", DefaultHosts)
	require.False(t, ok)

	_, ok = CandidateURL("ftp://a.repl.co/", DefaultHosts)
	require.False(t, ok)

	got, ok = CandidateURL("https://anything.example/", nil)
	require.True(t, ok)
	require.Equal(t, "https://anything.example/", got)
}

func TestPoolClosedFuture(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	pool.Close()
	_, err := pool.Submit(context.Background(), func(context.Context) ([]string, error) {
		return nil, nil
	}).Await(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	defer pool.Close()
	release := make(chan struct{})
	future := pool.Submit(context.Background(), func(context.Context) ([]string, error) {
		<-release
		return nil, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := future.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
