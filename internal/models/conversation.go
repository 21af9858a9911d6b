package models

import "time"

const (
	DefaultConversationTitle = "New Conversation"
	DefaultSystemPrompt      = "You are a helpful assistant."
)

// Conversation owns an ordered sequence of messages
type Conversation struct {
	ID           int64     `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	// Joined in code, not a DB column:
	Messages []Message `db:"-" json:"messages"`
}

// ApplyDefaults fills empty title and system prompt with the defaults
func (c *Conversation) ApplyDefaults() {
	if c.Title == "" {
		c.Title = DefaultConversationTitle
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
}
