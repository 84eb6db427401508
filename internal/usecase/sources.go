package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agntschat/internal/domain"
	"agntschat/internal/infra/tracer"
)

// DefaultSourceTimeout bounds one source's search.
const DefaultSourceTimeout = 10 * time.Second

// SourceLister loads stored source descriptors.
type SourceLister interface {
	GetAll(ctx context.Context) ([]domain.ContextSourceDescriptor, error)
}

// SourceAggregatorConfig tunes the fan-out.
type SourceAggregatorConfig struct {
	Timeout        time.Duration // per source
	MaxConcurrency int           // 0 = one goroutine per source
}

// SourceSearchError describes one source's failure. It is logged, never
// returned to the caller of Search.
type SourceSearchError struct {
	Source string
	Err    error
}

func (e *SourceSearchError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceSearchError) Unwrap() []error { return []error{domain.ErrSourceSearch, e.Err} }

// SourceAggregator searches every active context source concurrently and
// merges what the healthy ones return.
type SourceAggregator struct {
	lister  SourceLister
	factory domain.SourceFactory
	cfg     SourceAggregatorConfig
	logger  *slog.Logger

	mu     sync.RWMutex
	active []domain.ContextSource
}

// NewSourceAggregator creates an aggregator with no active sources; call
// Refresh to load them.
func NewSourceAggregator(lister SourceLister, factory domain.SourceFactory, cfg SourceAggregatorConfig, logger *slog.Logger) *SourceAggregator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSourceTimeout
	}
	return &SourceAggregator{lister: lister, factory: factory, cfg: cfg, logger: logger}
}

// Refresh rebuilds the active set from the enabled descriptors that build
// and validate. A failed load keeps the previous set.
func (a *SourceAggregator) Refresh(ctx context.Context) error {
	descs, err := a.lister.GetAll(ctx)
	if err != nil {
		return domain.WrapOp("SourceAggregator.Refresh", err)
	}

	var active []domain.ContextSource
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		res := a.factory.Build(d)
		switch {
		case res.Err != nil:
			a.logger.Warn("context source could not be built", "source", d.Name, "error", res.Err)
		case res.Source == nil:
			a.logger.Info("context source kind not supported yet", "source", d.Name, "kind", string(res.Unsupported))
		case !res.Source.ValidateConfiguration(ctx):
			a.logger.Warn("context source failed validation", "source", d.Name, "kind", string(d.Kind))
		default:
			active = append(active, res.Source)
		}
	}

	a.mu.Lock()
	a.active = active
	a.mu.Unlock()
	a.logger.Debug("context sources refreshed", "loaded", len(descs), "active", len(active))
	return nil
}

// Active returns the names of the active sources.
func (a *SourceAggregator) Active() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.active))
	for i, s := range a.active {
		names[i] = s.Name()
	}
	return names
}

// Search queries every active source with the same query and params.
// Results are merged in completion order. A source that fails, panics or
// exceeds its timeout contributes nothing; Search itself never fails. A
// blank query returns an empty slice without touching any source.
func (a *SourceAggregator) Search(ctx context.Context, query string, params map[string]any) []domain.ContextResult {
	if strings.TrimSpace(query) == "" {
		return []domain.ContextResult{}
	}

	a.mu.RLock()
	sources := append([]domain.ContextSource(nil), a.active...)
	a.mu.RUnlock()

	ctx, span := tracer.StartSpan(ctx, "sources.search", tracer.IntAttr("sources.count", len(sources)))
	defer span.End()

	var (
		mu      sync.Mutex
		results = []domain.ContextResult{}
		g       errgroup.Group
	)
	if a.cfg.MaxConcurrency > 0 {
		g.SetLimit(a.cfg.MaxConcurrency)
	}
	for _, src := range sources {
		g.Go(func() error {
			found, err := a.searchOne(ctx, src, query, params)
			if err != nil {
				a.logger.Warn("context source search failed", "error", err)
				return nil
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(tracer.IntAttr("results.count", len(results)))
	return results
}

type searchOutcome struct {
	results []domain.ContextResult
	err     error
}

func (a *SourceAggregator) searchOne(ctx context.Context, src domain.ContextSource, query string, params map[string]any) (results []domain.ContextResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "sources.search_one",
		tracer.StringAttr("source.name", src.Name()),
		tracer.StringAttr("source.kind", string(src.Kind())),
	)
	defer func() { tracer.Finish(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	// Buffered so a source that ignores ctx can still finish and exit.
	out := make(chan searchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- searchOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := src.Search(ctx, query, params)
		out <- searchOutcome{results: res, err: err}
	}()

	select {
	case o := <-out:
		if o.err != nil {
			return nil, &SourceSearchError{Source: src.Name(), Err: o.err}
		}
		for i := range o.results {
			if o.results[i].SourceName == "" {
				o.results[i].SourceName = src.Name()
			}
			if o.results[i].SourceKind == "" {
				o.results[i].SourceKind = src.Kind().ResultKind()
			}
		}
		return o.results, nil
	case <-ctx.Done():
		return nil, &SourceSearchError{Source: src.Name(), Err: ctx.Err()}
	}
}

// BuildPrompt appends retrieved context to message. With no results the
// message is returned unchanged.
func BuildPrompt(message string, results []domain.ContextResult) string {
	if len(results) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n--- DOCUMENT CONTEXT ---\n")
	for _, r := range results {
		fmt.Fprintf(&b, "--- %s (%s) ---\n", r.Title, r.SourceName)
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
