package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational turn. Messages are append-only: created on
// every turn, never mutated or deleted by this service.
type Message struct {
	ID        string    `json:"id" db:"id"`
	ChatID    string    `json:"chatId" db:"chat_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
