package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SourceKind identifies the family a context source belongs to.
type SourceKind string

const (
	SourceLocalFiles SourceKind = "LocalFiles"
	SourceWebAPI     SourceKind = "WebApi"
	SourceDatabase   SourceKind = "Database"
	SourceSharePoint SourceKind = "SharePoint"
	SourceCustom     SourceKind = "Custom"
)

// Valid reports whether k is one of the known kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceLocalFiles, SourceWebAPI, SourceDatabase, SourceSharePoint, SourceCustom:
		return true
	}
	return false
}

// ResultKind is the short label stamped on ContextResult.SourceKind.
func (k SourceKind) ResultKind() string {
	if k == SourceLocalFiles {
		return "LocalFile"
	}
	return string(k)
}

// ContextSourceDescriptor is the persisted definition of a context source.
// Configuration is a kind-specific JSON document.
type ContextSourceDescriptor struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Kind          SourceKind      `json:"kind"`
	Configuration json.RawMessage `json:"configuration"`
	Enabled       bool            `json:"enabled"`
	CreatedAt     time.Time       `json:"created_at"`
	ModifiedAt    time.Time       `json:"modified_at"`
}

// Default LocalFiles limits.
const (
	DefaultMaxFileSizeBytes int64 = 10 * 1024 * 1024
	MaxAllowedFileSizeBytes int64 = 100 * 1024 * 1024
)

// DefaultSupportedExtensions lists the file extensions LocalFiles accepts
// when the configuration does not name any.
var DefaultSupportedExtensions = []string{".txt", ".md", ".json", ".xml", ".csv", ".pdf", ".doc", ".docx"}

// LocalFilesConfig is the configuration of a LocalFiles source.
type LocalFilesConfig struct {
	FilePath            string   `json:"filePath"`
	SupportedExtensions []string `json:"supportedExtensions,omitempty"`
	MaxFileSizeBytes    int64    `json:"maxFileSizeBytes,omitempty"`
}

// WithDefaults fills unset fields.
func (c LocalFilesConfig) WithDefaults() LocalFilesConfig {
	if len(c.SupportedExtensions) == 0 {
		c.SupportedExtensions = append([]string(nil), DefaultSupportedExtensions...)
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	return c
}

// ContextResult is one piece of retrieved content.
type ContextResult struct {
	Content     string         `json:"content"`
	Title       string         `json:"title"`
	SourceName  string         `json:"source_name"`
	SourceKind  string         `json:"source_kind"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RetrievedAt time.Time      `json:"retrieved_at"`
}

// ContextSource is a pluggable provider of context results.
type ContextSource interface {
	Name() string
	Kind() SourceKind
	Search(ctx context.Context, query string, params map[string]any) ([]ContextResult, error)
	ValidateConfiguration(ctx context.Context) bool
}

// BuildResult is the outcome of turning a descriptor into a live source.
// Exactly one of Source, Unsupported or Err is set. An unsupported kind is an
// expected outcome, not a failure.
type BuildResult struct {
	Source      ContextSource
	Unsupported SourceKind
	Err         error
}

// Built wraps a constructed source.
func Built(src ContextSource) BuildResult { return BuildResult{Source: src} }

// Unsupported reports a kind that has no implementation yet.
func Unsupported(kind SourceKind) BuildResult { return BuildResult{Unsupported: kind} }

// BuildFailed reports a descriptor that could not be turned into a source.
func BuildFailed(err error) BuildResult { return BuildResult{Err: err} }

// SourceFactory builds live sources from stored descriptors.
type SourceFactory interface {
	Build(desc ContextSourceDescriptor) BuildResult
}
