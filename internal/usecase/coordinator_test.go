package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
)

func TestInvoke_EmptyPipelineFailsBeforeIO(t *testing.T) {
	fx := newCoordFixture(nil, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "hi", nil, nil, nil)
	assert.Nil(t, seq)
	assert.ErrorIs(t, err, domain.ErrInvalidPipeline)
	assert.Equal(t, domain.CodeInvalidPipeline, domain.ErrorCodeOf(err))
	assert.False(t, fx.runtime.Running(), "no runtime start")
	assert.Empty(t, fx.backend.callAgents())
	assert.Empty(t, fx.bus.types())
}

func TestInvoke_InvalidKernelArgsFailBeforeIO(t *testing.T) {
	fx := newCoordFixture(nil, time.Second)

	args := domain.KernelArguments{{Key: "tone", Value: "dry"}, {Key: "tone", Value: "warm"}}
	_, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, args)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, fx.runtime.Running())
}

func TestInvoke_IsLazy(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"ok"}}}, time.Second)

	_, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)
	assert.False(t, fx.runtime.Running(), "nothing starts until iteration")
}

func TestInvoke_SingleAgentStreams(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"Hel", "lo, ", "world"}}}, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "greet", agents("Writer"), nil, nil)
	require.NoError(t, err)
	chunks, err := collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo, ", "world"}, chunks)
	assert.Equal(t, []domain.EventType{domain.EventRunStarted, domain.EventRunCompleted}, fx.bus.types())
}

func TestInvoke_SequentialPipelineFeedsOutputForward(t *testing.T) {
	fx := newCoordFixture(map[string]script{
		"Writer":   {chunks: []string{"Draft ", "one"}},
		"Reviewer": {chunks: []string{"Looks ", "good"}},
	}, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "write a poem", agents("Writer", "Reviewer"), nil, nil)
	require.NoError(t, err)
	chunks, err := collect(seq)
	require.NoError(t, err)

	assert.Equal(t, "Looks good", strings.Join(chunks, ""), "only the final agent's output is returned")
	assert.Equal(t, []string{"Writer", "Reviewer"}, fx.backend.callAgents())
	assert.Equal(t, "write a poem", fx.backend.call(0).message)
	assert.Equal(t, "write a poem\n\n--- Output from Writer ---\nDraft one", fx.backend.call(1).message)
}

func TestInvoke_KernelArgumentsOverlayMessage(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"ok"}}}, time.Second)

	args := domain.KernelArguments{{Key: "tone", Value: "dry"}}
	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, args)
	require.NoError(t, err)
	_, err = collect(seq)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"message": "hi", "tone": "dry"}, fx.backend.call(0).args)
}

func TestInvoke_StageFailureSurfacesOneError(t *testing.T) {
	cause := errors.New("503 from agent host")
	fx := newCoordFixture(map[string]script{
		"Writer":   {chunks: []string{"Draft"}},
		"Reviewer": {chunks: []string{"half"}, err: cause},
	}, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer", "Reviewer"), nil, nil)
	require.NoError(t, err)

	var chunks []string
	var errs []error
	for c, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chunks = append(chunks, c)
	}
	assert.Empty(t, chunks, "multi-stage output is released only on success")
	require.Len(t, errs, 1)

	var oe *OrchestrationError
	require.ErrorAs(t, errs[0], &oe)
	assert.Equal(t, 1, oe.Stage)
	assert.Equal(t, "Reviewer", oe.Agent)
	assert.False(t, oe.Timeout)
	assert.ErrorIs(t, errs[0], domain.ErrOrchestration)
	assert.ErrorIs(t, errs[0], cause)
	assert.Contains(t, fx.bus.types(), domain.EventRunFailed)
}

func TestInvoke_DeadlineCancelsInFlightCall(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"partial"}, block: true}}, 30*time.Millisecond)

	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = collect(seq)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, domain.ErrOrchestrationTimeout)
	assert.ErrorIs(t, err, domain.ErrOrchestration)
	assert.Equal(t, domain.CodeOrchestrationTimeout, domain.ErrorCodeOf(err))
	assert.Equal(t, int32(1), fx.backend.cancelled.Load(), "backend call observed cancellation")

	// The run drained before returning, so nothing is left to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, fx.runtime.DrainUntilIdle(ctx))
}

func TestInvoke_ConcurrentRunsDoNotWaitOnEachOther(t *testing.T) {
	fx := newCoordFixture(map[string]script{
		"Slow": {chunks: []string{"thinking"}, block: true},
		"Fast": {chunks: []string{"ok"}},
	}, 2*time.Second)

	slowSeq, err := fx.coord.Invoke(context.Background(), "hi", agents("Slow"), nil, nil)
	require.NoError(t, err)
	started := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		var runErr error
		for _, err := range slowSeq {
			if err != nil {
				runErr = err
				continue
			}
			select {
			case <-started:
			default:
				close(started)
			}
		}
		slowDone <- runErr
	}()
	<-started

	start := time.Now()
	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Fast"), nil, nil)
	require.NoError(t, err)
	chunks, err := collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, chunks)
	assert.Less(t, time.Since(start), time.Second, "fast run finished without waiting for the slow one")

	assert.ErrorIs(t, <-slowDone, domain.ErrOrchestrationTimeout)
}

func TestInvoke_CallerCancellationIsNotATimeout(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {block: true}}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := fx.coord.Invoke(ctx, "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)

	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = collect(seq)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrOrchestrationTimeout)
}

func TestInvoke_ConsumerEarlyExitCancelsBackend(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {endless: true}}, time.Minute)

	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fx.runtime.DrainUntilIdle(ctx))
	assert.NotContains(t, fx.bus.types(), domain.EventRunCompleted)
}

func TestInvoke_EmptyReplyIsAnError(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"", "  "}}}, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)
	_, err = collect(seq)
	assert.ErrorIs(t, err, domain.ErrOrchestration)
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestInvoke_BackendPanicBecomesError(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {panics: true}}, time.Second)

	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)
	_, err = collect(seq)
	assert.ErrorIs(t, err, domain.ErrOrchestration)
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestInvoke_RuntimeStartsOnceAcrossRuns(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"ok"}}}, time.Second)

	for range 3 {
		seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
		require.NoError(t, err)
		_, err = collect(seq)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fx.starts.Load())
}

func TestInvoke_StoppedRuntimeFailsRun(t *testing.T) {
	fx := newCoordFixture(map[string]script{"Writer": {chunks: []string{"ok"}}}, time.Second)
	h, err := fx.runtime.EnsureStarted(context.Background())
	require.NoError(t, err)
	require.NoError(t, fx.runtime.Stop(context.Background()))
	assert.ErrorIs(t, h.Go(func() {}), domain.ErrRuntimeStopped)

	// A stopped runtime restarts on the next run.
	seq, err := fx.coord.Invoke(context.Background(), "hi", agents("Writer"), nil, nil)
	require.NoError(t, err)
	_, err = collect(seq)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fx.starts.Load())
}

func TestOrchestrationError_Message(t *testing.T) {
	e := &OrchestrationError{RunID: "r1", Stage: 0, Agent: "Writer", Err: errors.New("boom")}
	assert.Equal(t, "run r1: orchestration failed at stage 1 (Writer): boom", e.Error())

	e = &OrchestrationError{RunID: "r1", Stage: -1, Timeout: true, Err: context.DeadlineExceeded}
	assert.Equal(t, "run r1: orchestration deadline exceeded: context deadline exceeded", e.Error())
}
