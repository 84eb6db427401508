package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequestLog records a message sent to a pipeline of agents.
type ChatRequestLog struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id"`
	Message string    `json:"message"`
	Agents  []string  `json:"agents"`
	At      time.Time `json:"at"`
}

// ChatResponseLog records the reply produced for a request.
type ChatResponseLog struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	Agent    string    `json:"agent"`
	Response string    `json:"response"`
	Degraded bool      `json:"degraded"`
	Failed   bool      `json:"failed"`
	At       time.Time `json:"at"`
}
