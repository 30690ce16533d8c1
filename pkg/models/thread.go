package models

import "time"

// ThreadMessage is one turn of an agent conversation.
type ThreadMessage struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message roles recorded in a thread.
const (
	ThreadUser      = "user"
	ThreadAssistant = "assistant"
)

// Thread is the conversation history of one role on one issue, kept so a
// later run can resume where the previous one stopped.
type Thread struct {
	ThreadID     string          `json:"thread_id"`
	Issue        int             `json:"issue"`
	Role         Role            `json:"role"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	MessageCount int             `json:"message_count"`
	Messages     []ThreadMessage `json:"messages"`
}

// ThreadSummary lists a stored thread without its messages.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	Issue        int       `json:"issue"`
	Role         Role      `json:"role"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
