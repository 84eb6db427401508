package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"agntschat/internal/domain"
)

// SourceStore persists context source descriptors.
type SourceStore interface {
	SourceLister
	Get(ctx context.Context, id int64) (domain.ContextSourceDescriptor, error)
	Save(ctx context.Context, d domain.ContextSourceDescriptor) (domain.ContextSourceDescriptor, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) (bool, error)
}

// DescriptorValidator checks a descriptor before it may become active.
type DescriptorValidator interface {
	ValidateDescriptor(ctx context.Context, d domain.ContextSourceDescriptor) error
}

// SourceCatalog manages stored context sources. A source that fails
// validation is deactivated, never deleted.
type SourceCatalog struct {
	store      SourceStore
	validator  DescriptorValidator
	aggregator *SourceAggregator
	bus        domain.EventBus
	logger     *slog.Logger
}

// NewSourceCatalog creates a catalog. aggregator and bus may be nil; when
// set, the aggregator is refreshed after every change.
func NewSourceCatalog(store SourceStore, validator DescriptorValidator, aggregator *SourceAggregator, bus domain.EventBus, logger *slog.Logger) *SourceCatalog {
	return &SourceCatalog{store: store, validator: validator, aggregator: aggregator, bus: bus, logger: logger}
}

// List returns every stored source, newest first.
func (c *SourceCatalog) List(ctx context.Context) ([]domain.ContextSourceDescriptor, error) {
	return c.store.GetAll(ctx)
}

// Add validates and stores a new source.
func (c *SourceCatalog) Add(ctx context.Context, d domain.ContextSourceDescriptor) (domain.ContextSourceDescriptor, error) {
	if err := c.validator.ValidateDescriptor(ctx, d); err != nil {
		return d, domain.WrapOp("SourceCatalog.Add", err)
	}
	saved, err := c.store.Save(ctx, d)
	if err != nil {
		return saved, domain.WrapOp("SourceCatalog.Add", err)
	}
	c.logger.Info("context source added", "id", saved.ID, "name", saved.Name, "kind", string(saved.Kind))
	c.refresh(ctx)
	return saved, nil
}

// SetEnabled enables or disables a source. Enabling re-validates it first.
func (c *SourceCatalog) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if enabled {
		d, err := c.store.Get(ctx, id)
		if err != nil {
			return domain.WrapOp("SourceCatalog.SetEnabled", err)
		}
		if err := c.validator.ValidateDescriptor(ctx, d); err != nil {
			return domain.WrapOp("SourceCatalog.SetEnabled", err)
		}
	}
	if err := c.store.SetEnabled(ctx, id, enabled); err != nil {
		return domain.WrapOp("SourceCatalog.SetEnabled", err)
	}
	c.refresh(ctx)
	return nil
}

// Delete removes a source and reports whether it existed.
func (c *SourceCatalog) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := c.store.Delete(ctx, id)
	if err != nil {
		return false, domain.WrapOp("SourceCatalog.Delete", err)
	}
	if ok {
		c.refresh(ctx)
	}
	return ok, nil
}

// Validate checks the stored source with id. An invalid source is
// deactivated and its reason returned; a nil reason means it is valid.
// The error result is reserved for store failures.
func (c *SourceCatalog) Validate(ctx context.Context, id int64) (reason error, err error) {
	d, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, domain.WrapOp("SourceCatalog.Validate", err)
	}
	reason, err = c.check(ctx, d)
	if err != nil {
		return reason, err
	}
	if reason != nil {
		c.refresh(ctx)
	}
	return reason, nil
}

// RevalidateAll checks every enabled source and deactivates the invalid
// ones. It returns how many were deactivated.
func (c *SourceCatalog) RevalidateAll(ctx context.Context) (int, error) {
	descs, err := c.store.GetAll(ctx)
	if err != nil {
		return 0, domain.WrapOp("SourceCatalog.RevalidateAll", err)
	}
	deactivated := 0
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		reason, err := c.check(ctx, d)
		if err != nil {
			return deactivated, err
		}
		if reason != nil {
			deactivated++
		}
	}
	c.refresh(ctx)
	return deactivated, nil
}

func (c *SourceCatalog) check(ctx context.Context, d domain.ContextSourceDescriptor) (reason, err error) {
	reason = c.validator.ValidateDescriptor(ctx, d)
	if reason == nil || !d.Enabled {
		return reason, nil
	}
	if err = c.store.SetEnabled(ctx, d.ID, false); err != nil {
		return reason, fmt.Errorf("deactivate source %q: %w", d.Name, err)
	}
	c.logger.Warn("context source deactivated", "id", d.ID, "name", d.Name, "reason", reason)
	publishEvent(c.bus, ctx, domain.EventSourceDeactivated, "", domain.SourceDeactivatedPayload{
		ID: d.ID, Name: d.Name, Reason: reason.Error(),
	})
	return reason, nil
}

func (c *SourceCatalog) refresh(ctx context.Context) {
	if c.aggregator == nil {
		return
	}
	if err := c.aggregator.Refresh(ctx); err != nil {
		c.logger.Warn("context source refresh failed", "error", err)
	}
}
