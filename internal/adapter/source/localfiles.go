package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"agntschat/internal/domain"
)

// LocalFiles serves the content of a single configured file.
type LocalFiles struct {
	name   string
	cfg    domain.LocalFilesConfig
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.ContextSource = (*LocalFiles)(nil)

// NewLocalFiles creates a LocalFiles source. Unset configuration fields take
// their defaults.
func NewLocalFiles(name string, cfg domain.LocalFilesConfig, logger *slog.Logger) *LocalFiles {
	return &LocalFiles{name: name, cfg: cfg.WithDefaults(), logger: logger, now: time.Now}
}

func (s *LocalFiles) Name() string            { return s.name }
func (s *LocalFiles) Kind() domain.SourceKind { return domain.SourceLocalFiles }

// ValidateConfiguration reports whether the path names a readable regular
// file.
func (s *LocalFiles) ValidateConfiguration(context.Context) bool {
	return checkReadable(s.cfg.FilePath) == nil
}

// Search returns the file content as one result. A file outside the
// extension whitelist or above the size ceiling, or with no extractable
// text, yields no results and no error.
func (s *LocalFiles) Search(ctx context.Context, query string, _ map[string]any) ([]domain.ContextResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.cfg.FilePath
	if err := checkReadable(path); err != nil {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil
	}
	if !s.supported(path) {
		s.logger.Debug("file extension not supported", "source", s.name, "path", path)
		return nil, nil
	}
	if info.Size() > s.cfg.MaxFileSizeBytes {
		s.logger.Debug("file above size ceiling", "source", s.name, "path", path,
			"size", info.Size(), "max", s.cfg.MaxFileSizeBytes)
		return nil, nil
	}

	content, err := extractText(ctx, path, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	return []domain.ContextResult{{
		Content:    content,
		Title:      filepath.Base(path),
		SourceName: s.name,
		SourceKind: domain.SourceLocalFiles.ResultKind(),
		Metadata: map[string]any{
			"file_path":     path,
			"file_size":     info.Size(),
			"last_modified": info.ModTime(),
			"query_matches": countMatches(content, query),
		},
		RetrievedAt: s.now(),
	}}, nil
}

func (s *LocalFiles) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(s.cfg.SupportedExtensions, func(e string) bool {
		return strings.ToLower(e) == ext
	})
}

// checkReadable fails unless path is a regular file that can be opened.
func checkReadable(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func countMatches(content, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	return strings.Count(strings.ToLower(content), q)
}
