package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"agntschat/internal/domain"
)

// AgentRepository persists agent descriptors.
type AgentRepository struct {
	db *DB
}

// NewAgentRepository creates an agent repository on db.
func NewAgentRepository(db *DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetAll returns every agent ordered by name.
func (r *AgentRepository) GetAll(ctx context.Context) ([]domain.AgentDescriptor, error) {
	return ExecuteValue(ctx, r.db.exec, "load agents", func(ctx context.Context) ([]domain.AgentDescriptor, error) {
		rows, err := r.db.sql.QueryContext(ctx,
			"SELECT id, name, description, instructions_ref, persona_ref FROM agents ORDER BY name")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var agents []domain.AgentDescriptor
		for rows.Next() {
			var (
				a  domain.AgentDescriptor
				id int64
			)
			if err := rows.Scan(&id, &a.Name, &a.Description, &a.InstructionsRef, &a.PersonaRef); err != nil {
				return nil, err
			}
			a.ID = &id
			agents = append(agents, a)
		}
		return agents, rows.Err()
	})
}

// FindByNames returns the named agents in the order given.
func (r *AgentRepository) FindByNames(ctx context.Context, names []string) ([]domain.AgentDescriptor, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.AgentDescriptor, len(all))
	for _, a := range all {
		byName[a.Name] = a
	}
	out := make([]domain.AgentDescriptor, 0, len(names))
	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return nil, domain.NewDomainError("AgentRepository.FindByNames", domain.ErrNotFound, fmt.Sprintf("agent %q", n))
		}
		out = append(out, a)
	}
	return out, nil
}

// Save inserts the agent when ID is nil and updates it otherwise. The stored
// agent, with its ID set, is returned.
func (r *AgentRepository) Save(ctx context.Context, agent domain.AgentDescriptor) (domain.AgentDescriptor, error) {
	if err := agent.Validate(); err != nil {
		return agent, err
	}

	if agent.ID != nil {
		err := r.db.exec.Execute(ctx, "update agent", func(ctx context.Context) error {
			res, err := r.db.sql.ExecContext(ctx,
				"UPDATE agents SET name = ?, description = ?, instructions_ref = ?, persona_ref = ? WHERE id = ?",
				agent.Name, agent.Description, agent.InstructionsRef, agent.PersonaRef, *agent.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.NewDomainError("AgentRepository.Save", domain.ErrNotFound, fmt.Sprintf("agent id %d", *agent.ID))
			}
			return nil
		})
		return agent, err
	}

	id, err := ExecuteValue(ctx, r.db.exec, "insert agent", func(ctx context.Context) (int64, error) {
		res, err := r.db.sql.ExecContext(ctx,
			"INSERT INTO agents (name, description, instructions_ref, persona_ref) VALUES (?, ?, ?, ?)",
			agent.Name, agent.Description, agent.InstructionsRef, agent.PersonaRef)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
	if err != nil {
		return agent, err
	}
	agent.ID = &id
	return agent, nil
}

// Delete removes the agent with id and reports whether a row existed.
func (r *AgentRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return ExecuteValue(ctx, r.db.exec, "delete agent", func(ctx context.Context) (bool, error) {
		res, err := r.db.sql.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n > 0, err
	})
}

// importedAgent accepts both the legacy PascalCase file layout and the
// current snake_case one.
type importedAgent struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	InstructionsRef  string `json:"instructions_ref"`
	PersonaRef       string `json:"persona_ref"`
	InstructionsPath string `json:"InstructionsPath"`
	PromptyPath      string `json:"PromptyPath"`
}

// ImportJSON seeds the agent table from a JSON array file. It only runs when
// the table is empty and reports how many agents were imported. A missing
// file imports nothing.
func (r *AgentRepository) ImportJSON(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read agent import file: %w", err)
	}

	existing, err := r.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	var items []importedAgent
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("%w: parse agent import file: %v", domain.ErrInvalidInput, err)
	}

	imported := 0
	for _, it := range items {
		a := domain.AgentDescriptor{
			Name:            it.Name,
			Description:     it.Description,
			InstructionsRef: firstNonEmpty(it.InstructionsRef, it.InstructionsPath),
			PersonaRef:      firstNonEmpty(it.PersonaRef, it.PromptyPath),
		}
		if _, err := r.Save(ctx, a); err != nil {
			return imported, fmt.Errorf("import agent %q: %w", a.Name, err)
		}
		imported++
	}
	return imported, nil
}

// Count returns the number of stored agents.
func (r *AgentRepository) Count(ctx context.Context) (int, error) {
	return ExecuteValue(ctx, r.db.exec, "count agents", func(ctx context.Context) (int, error) {
		var n int
		err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents").Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return n, err
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
