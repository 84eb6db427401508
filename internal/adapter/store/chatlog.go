package store

import (
	"context"
	"encoding/json"
	"fmt"

	"agntschat/internal/domain"
)

// ChatLogRepository persists chat request and response logs.
type ChatLogRepository struct {
	db *DB
}

// NewChatLogRepository creates a chat log repository on db.
func NewChatLogRepository(db *DB) *ChatLogRepository {
	return &ChatLogRepository{db: db}
}

// RecordRequest stores a request log entry.
func (r *ChatLogRepository) RecordRequest(ctx context.Context, l domain.ChatRequestLog) error {
	agents, err := json.Marshal(l.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	return r.db.exec.Execute(ctx, "record chat request", func(ctx context.Context) error {
		_, err := r.db.sql.ExecContext(ctx,
			"INSERT INTO chat_requests (id, run_id, message, agents, at) VALUES (?, ?, ?, ?, ?)",
			l.ID, l.RunID, l.Message, string(agents), formatTime(l.At))
		return err
	})
}

// RecordResponse stores a response log entry.
func (r *ChatLogRepository) RecordResponse(ctx context.Context, l domain.ChatResponseLog) error {
	return r.db.exec.Execute(ctx, "record chat response", func(ctx context.Context) error {
		_, err := r.db.sql.ExecContext(ctx,
			"INSERT INTO chat_responses (id, run_id, agent, response, degraded, failed, at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			l.ID, l.RunID, l.Agent, l.Response, boolToInt(l.Degraded), boolToInt(l.Failed), formatTime(l.At))
		return err
	})
}

// ChatExchange pairs a request with the responses recorded for its run.
type ChatExchange struct {
	Request   domain.ChatRequestLog
	Responses []domain.ChatResponseLog
}

// Recent returns the latest limit exchanges, oldest first.
func (r *ChatLogRepository) Recent(ctx context.Context, limit int) ([]ChatExchange, error) {
	if limit <= 0 {
		limit = 10
	}
	return ExecuteValue(ctx, r.db.exec, "load chat history", func(ctx context.Context) ([]ChatExchange, error) {
		rows, err := r.db.sql.QueryContext(ctx,
			"SELECT id, run_id, message, agents, at FROM chat_requests ORDER BY at DESC LIMIT ?", limit)
		if err != nil {
			return nil, err
		}

		var exchanges []ChatExchange
		for rows.Next() {
			var (
				req        domain.ChatRequestLog
				agents, at string
			)
			if err := rows.Scan(&req.ID, &req.RunID, &req.Message, &agents, &at); err != nil {
				rows.Close()
				return nil, err
			}
			_ = json.Unmarshal([]byte(agents), &req.Agents)
			req.At = parseTime(at)
			exchanges = append(exchanges, ChatExchange{Request: req})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		// Single connection: the request cursor must be closed before the
		// response queries run.
		for i := range exchanges {
			resps, err := r.responsesFor(ctx, exchanges[i].Request.RunID)
			if err != nil {
				return nil, err
			}
			exchanges[i].Responses = resps
		}

		for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
			exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
		}
		return exchanges, nil
	})
}

func (r *ChatLogRepository) responsesFor(ctx context.Context, runID string) ([]domain.ChatResponseLog, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		"SELECT id, run_id, agent, response, degraded, failed, at FROM chat_responses WHERE run_id = ? ORDER BY at, id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatResponseLog
	for rows.Next() {
		var (
			l                domain.ChatResponseLog
			degraded, failed int
			at               string
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.Agent, &l.Response, &degraded, &failed, &at); err != nil {
			return nil, err
		}
		l.Degraded = degraded != 0
		l.Failed = failed != 0
		l.At = parseTime(at)
		out = append(out, l)
	}
	return out, rows.Err()
}
