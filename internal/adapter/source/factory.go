// Package source implements context sources and their descriptor checks.
package source

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"agntschat/internal/domain"
)

// Factory turns stored descriptors into live sources.
type Factory struct {
	logger *slog.Logger
}

var _ domain.SourceFactory = (*Factory)(nil)

// NewFactory creates a source factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Build constructs the source for d. Kinds without an implementation yield
// an Unsupported result rather than an error.
func (f *Factory) Build(d domain.ContextSourceDescriptor) domain.BuildResult {
	switch d.Kind {
	case domain.SourceLocalFiles:
		cfg, err := decodeLocalFiles(d.Configuration)
		if err != nil {
			return domain.BuildFailed(fmt.Errorf("source %q: %w", d.Name, err))
		}
		return domain.Built(NewLocalFiles(d.Name, cfg, f.logger))
	case domain.SourceWebAPI, domain.SourceDatabase, domain.SourceSharePoint, domain.SourceCustom:
		return domain.Unsupported(d.Kind)
	default:
		return domain.BuildFailed(domain.NewDomainError("Factory.Build", domain.ErrInvalidInput,
			fmt.Sprintf("source %q has unknown kind %q", d.Name, d.Kind)))
	}
}

func decodeLocalFiles(raw json.RawMessage) (domain.LocalFilesConfig, error) {
	var cfg domain.LocalFilesConfig
	if len(raw) == 0 {
		return cfg.WithDefaults(), nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: local files configuration: %v", domain.ErrInvalidInput, err)
	}
	return cfg.WithDefaults(), nil
}
