package usecase

import (
	"iter"
	"strings"
	"sync"

	"agntschat/internal/domain"
)

// DefaultNotifyEvery is the scroll signal granularity in characters.
const DefaultNotifyEvery = 50

// ProgressObserver receives aggregation progress. Callbacks run on the
// goroutine that feeds the aggregator.
type ProgressObserver interface {
	// OnProgress is called after every chunk with the full buffer so far.
	OnProgress(snapshot string)
	// OnScroll is called when the buffer length crosses a multiple of the
	// notification granularity.
	OnScroll()
}

// ObserverFuncs adapts plain functions to ProgressObserver. Nil fields are
// skipped.
type ObserverFuncs struct {
	Progress func(snapshot string)
	Scroll   func()
}

func (o ObserverFuncs) OnProgress(snapshot string) {
	if o.Progress != nil {
		o.Progress(snapshot)
	}
}

func (o ObserverFuncs) OnScroll() {
	if o.Scroll != nil {
		o.Scroll()
	}
}

// ResponseAggregator accumulates the chunks of one run into a single buffer.
// One aggregator serves exactly one run.
type ResponseAggregator struct {
	observer ProgressObserver
	every    int

	mu       sync.Mutex
	buf      strings.Builder
	finished bool
}

// NewResponseAggregator creates an aggregator. observer may be nil; every <= 0
// selects DefaultNotifyEvery.
func NewResponseAggregator(observer ProgressObserver, every int) *ResponseAggregator {
	if every <= 0 {
		every = DefaultNotifyEvery
	}
	return &ResponseAggregator{observer: observer, every: every}
}

// OnChunk appends delta to the buffer and notifies the observer.
func (a *ResponseAggregator) OnChunk(delta string) error {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return domain.ErrAlreadyFinished
	}
	before := a.buf.Len()
	a.buf.WriteString(delta)
	after := a.buf.Len()
	snapshot := a.buf.String()
	a.mu.Unlock()

	if a.observer == nil {
		return nil
	}
	a.observer.OnProgress(snapshot)
	if after/a.every > before/a.every {
		a.observer.OnScroll()
	}
	return nil
}

// CurrentValue returns the buffer so far.
func (a *ResponseAggregator) CurrentValue() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Finish seals the buffer and returns it. Only the first call succeeds.
func (a *ResponseAggregator) Finish() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return "", domain.ErrAlreadyFinished
	}
	a.finished = true
	return a.buf.String(), nil
}

// Consume feeds every chunk of seq into the aggregator and returns the first
// error the sequence yields.
func (a *ResponseAggregator) Consume(seq iter.Seq2[string, error]) error {
	for chunk, err := range seq {
		if err != nil {
			return err
		}
		if err := a.OnChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}
