package runtime

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
)

type nopBackend struct{}

func (nopBackend) InvokeStreaming(context.Context, domain.AgentDescriptor, string, []domain.Message, map[string]string) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

func newTestRuntime(starts, closes *atomic.Int32) *Runtime {
	return New(func(context.Context) (*Environment, error) {
		starts.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &Environment{
			Backend: nopBackend{},
			Close: func() error {
				closes.Add(1)
				return nil
			},
		}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureStarted_ConcurrentCallersShareHandle(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)

	handles := make([]*Handle, 16)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := rt.EnsureStarted(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), starts.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.True(t, rt.Running())
}

func TestEnsureStarted_FactoryError(t *testing.T) {
	boom := errors.New("no credentials")
	rt := New(func(context.Context) (*Environment, error) { return nil, boom },
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := rt.EnsureStarted(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, rt.Running())
}

func TestStop_DrainsTrackedWork(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)
	h, err := rt.EnsureStarted(context.Background())
	require.NoError(t, err)

	var finished atomic.Bool
	require.NoError(t, h.Go(func() {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}))

	require.NoError(t, rt.Stop(context.Background()))
	assert.True(t, finished.Load(), "stop must wait for in-flight work")
	assert.Equal(t, int32(1), closes.Load())
	assert.ErrorIs(t, h.Go(func() {}), domain.ErrRuntimeStopped)
}

func TestStop_Idempotent(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)

	require.NoError(t, rt.Stop(context.Background()), "stop before start is a no-op")
	_, err := rt.EnsureStarted(context.Background())
	require.NoError(t, err)
	require.NoError(t, rt.Stop(context.Background()))
	require.NoError(t, rt.Stop(context.Background()))
	assert.Equal(t, int32(1), closes.Load())

	_, err = rt.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), starts.Load(), "restart after stop builds a new environment")
}

func TestDrainUntilIdle(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)
	require.NoError(t, rt.DrainUntilIdle(context.Background()))

	h, err := rt.EnsureStarted(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, h.Go(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rt.DrainUntilIdle(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, rt.DrainUntilIdle(context.Background()))
	assert.True(t, rt.Running(), "drain does not stop the runtime")
}

func TestStop_TimeoutStillReleasesHandle(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)
	ctx := context.Background()

	h, err := rt.EnsureStarted(ctx)
	require.NoError(t, err)
	release := make(chan struct{})
	require.NoError(t, h.Go(func() { <-release }))

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = rt.Stop(stopCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, rt.Running())
	assert.Equal(t, int32(0), closes.Load(), "environment stays open while its work runs")

	fresh, err := rt.EnsureStarted(ctx)
	require.NoError(t, err)
	assert.NotSame(t, h, fresh)
	assert.NoError(t, fresh.Go(func() {}))
	assert.ErrorIs(t, h.Go(func() {}), domain.ErrRuntimeStopped)

	close(release)
	assert.Eventually(t, func() bool { return closes.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, int32(2), closes.Load())
}

func TestGroup_WaitOnlyCoversItsOwnWork(t *testing.T) {
	var starts, closes atomic.Int32
	rt := newTestRuntime(&starts, &closes)
	ctx := context.Background()

	h, err := rt.EnsureStarted(ctx)
	require.NoError(t, err)

	slow, fast := h.Group(), h.Group()
	release := make(chan struct{})
	require.NoError(t, slow.Go(func() { <-release }))
	require.NoError(t, fast.Go(func() {}))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, fast.Wait(waitCtx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, rt.DrainUntilIdle(short), context.DeadlineExceeded, "handle still tracks group work")

	close(release)
	require.NoError(t, slow.Wait(waitCtx))
	require.NoError(t, rt.Stop(ctx))
	assert.ErrorIs(t, h.Group().Go(func() {}), domain.ErrRuntimeStopped)
}
