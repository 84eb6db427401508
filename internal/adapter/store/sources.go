package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agntschat/internal/domain"
)

// SourceRepository persists context source descriptors.
type SourceRepository struct {
	db  *DB
	now func() time.Time
}

// NewSourceRepository creates a source repository on db.
func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db, now: time.Now}
}

const sourceColumns = "id, name, description, kind, configuration, enabled, created_at, modified_at"

// GetAll returns every source, newest first.
func (r *SourceRepository) GetAll(ctx context.Context) ([]domain.ContextSourceDescriptor, error) {
	return ExecuteValue(ctx, r.db.exec, "load context sources", func(ctx context.Context) ([]domain.ContextSourceDescriptor, error) {
		rows, err := r.db.sql.QueryContext(ctx,
			"SELECT "+sourceColumns+" FROM data_sources ORDER BY created_at DESC, id DESC")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.ContextSourceDescriptor
		for rows.Next() {
			d, err := scanSource(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, rows.Err()
	})
}

// Get returns the source with id.
func (r *SourceRepository) Get(ctx context.Context, id int64) (domain.ContextSourceDescriptor, error) {
	return ExecuteValue(ctx, r.db.exec, "load context source", func(ctx context.Context) (domain.ContextSourceDescriptor, error) {
		row := r.db.sql.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM data_sources WHERE id = ?", id)
		d, err := scanSource(row)
		if errors.Is(err, sql.ErrNoRows) {
			return d, domain.NewDomainError("SourceRepository.Get", domain.ErrNotFound, fmt.Sprintf("source id %d", id))
		}
		return d, err
	})
}

// Save inserts the source when ID is zero and updates it otherwise.
func (r *SourceRepository) Save(ctx context.Context, d domain.ContextSourceDescriptor) (domain.ContextSourceDescriptor, error) {
	if len(d.Configuration) == 0 {
		d.Configuration = json.RawMessage("{}")
	}
	now := r.now().UTC()
	d.ModifiedAt = now

	if d.ID != 0 {
		err := r.db.exec.Execute(ctx, "update context source", func(ctx context.Context) error {
			res, err := r.db.sql.ExecContext(ctx,
				`UPDATE data_sources
				 SET name = ?, description = ?, kind = ?, configuration = ?, enabled = ?, modified_at = ?
				 WHERE id = ?`,
				d.Name, d.Description, string(d.Kind), string(d.Configuration), boolToInt(d.Enabled), formatTime(now), d.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.NewDomainError("SourceRepository.Save", domain.ErrNotFound, fmt.Sprintf("source id %d", d.ID))
			}
			return nil
		})
		return d, err
	}

	d.CreatedAt = now
	id, err := ExecuteValue(ctx, r.db.exec, "insert context source", func(ctx context.Context) (int64, error) {
		res, err := r.db.sql.ExecContext(ctx,
			`INSERT INTO data_sources (name, description, kind, configuration, enabled, created_at, modified_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.Name, d.Description, string(d.Kind), string(d.Configuration), boolToInt(d.Enabled), formatTime(now), formatTime(now))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
	if err != nil {
		return d, err
	}
	d.ID = id
	return d, nil
}

// SetEnabled flips the enabled flag without touching the configuration.
func (r *SourceRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.db.exec.Execute(ctx, "toggle context source", func(ctx context.Context) error {
		res, err := r.db.sql.ExecContext(ctx,
			"UPDATE data_sources SET enabled = ?, modified_at = ? WHERE id = ?",
			boolToInt(enabled), formatTime(r.now()), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NewDomainError("SourceRepository.SetEnabled", domain.ErrNotFound, fmt.Sprintf("source id %d", id))
		}
		return nil
	})
}

// Delete removes the source with id and reports whether a row existed.
func (r *SourceRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return ExecuteValue(ctx, r.db.exec, "delete context source", func(ctx context.Context) (bool, error) {
		res, err := r.db.sql.ExecContext(ctx, "DELETE FROM data_sources WHERE id = ?", id)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n > 0, err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (domain.ContextSourceDescriptor, error) {
	var (
		d                 domain.ContextSourceDescriptor
		kind, cfg         string
		enabled           int
		created, modified string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &kind, &cfg, &enabled, &created, &modified); err != nil {
		return d, err
	}
	d.Kind = domain.SourceKind(kind)
	d.Configuration = json.RawMessage(cfg)
	d.Enabled = enabled != 0
	d.CreatedAt = parseTime(created)
	d.ModifiedAt = parseTime(modified)
	return d, nil
}
