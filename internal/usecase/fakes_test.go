package usecase

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agntschat/internal/domain"
	"agntschat/internal/usecase/runtime"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func agents(names ...string) []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, len(names))
	for i, n := range names {
		out[i] = domain.AgentDescriptor{Name: n}
	}
	return out
}

// script is the canned behaviour of one agent.
type script struct {
	chunks  []string
	err     error // yielded after the chunks
	block   bool  // wait for cancellation after the chunks
	endless bool  // keep yielding "x" until cancelled
	panics  bool
}

type backendCall struct {
	agent   string
	message string
	history int
	args    map[string]string
}

type fakeBackend struct {
	mu        sync.Mutex
	scripts   map[string]script
	calls     []backendCall
	cancelled atomic.Int32
}

func newFakeBackend(scripts map[string]script) *fakeBackend {
	return &fakeBackend{scripts: scripts}
}

func (f *fakeBackend) InvokeStreaming(ctx context.Context, agent domain.AgentDescriptor, message string, history []domain.Message, args map[string]string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.calls = append(f.calls, backendCall{agent: agent.Name, message: message, history: len(history), args: args})
	s := f.scripts[agent.Name]
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		if s.panics {
			panic("agent exploded")
		}
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		switch {
		case s.endless:
			for {
				select {
				case <-ctx.Done():
					f.cancelled.Add(1)
					yield("", ctx.Err())
					return
				case <-time.After(time.Millisecond):
					if !yield("x", nil) {
						return
					}
				}
			}
		case s.block:
			<-ctx.Done()
			f.cancelled.Add(1)
			yield("", ctx.Err())
		case s.err != nil:
			yield("", s.err)
		}
	}
}

func (f *fakeBackend) callAgents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.agent
	}
	return out
}

func (f *fakeBackend) call(i int) backendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// recordingBus delivers synchronously and keeps every event.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                 { return func() {} }
func (b *recordingBus) Close()                                                  {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

type coordFixture struct {
	backend *fakeBackend
	runtime *runtime.Runtime
	bus     *recordingBus
	coord   *Coordinator
	starts  *atomic.Int32
}

func newCoordFixture(scripts map[string]script, deadline time.Duration) *coordFixture {
	fx := &coordFixture{
		backend: newFakeBackend(scripts),
		bus:     &recordingBus{},
		starts:  &atomic.Int32{},
	}
	fx.runtime = runtime.New(func(context.Context) (*runtime.Environment, error) {
		fx.starts.Add(1)
		return &runtime.Environment{Backend: fx.backend}, nil
	}, newTestLogger())
	fx.coord = NewCoordinator(fx.runtime, fx.bus, CoordinatorConfig{Deadline: deadline}, newTestLogger())
	return fx
}

// collect drains seq into its chunks and the first error.
func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var chunks []string
	for c, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// memChatLog keeps chat log entries in memory. With failWith set every
// write fails and nothing is kept.
type memChatLog struct {
	mu        sync.Mutex
	order     []string
	requests  []domain.ChatRequestLog
	responses []domain.ChatResponseLog
	failWith  error
}

func (m *memChatLog) RecordRequest(_ context.Context, l domain.ChatRequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.order = append(m.order, "request:"+l.RunID)
	m.requests = append(m.requests, l)
	return nil
}

func (m *memChatLog) RecordResponse(_ context.Context, l domain.ChatResponseLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.order = append(m.order, "response:"+l.RunID)
	m.responses = append(m.responses, l)
	return nil
}
