package models

import (
	"fmt"
	"time"
)

// Role is the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r can be stored on a message
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a raw string into a storable Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q: must be user or assistant", s)
	}
	return r, nil
}

// Message is one turn in a conversation
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	Role           Role      `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`

	// Joined in code, not a DB column:
	GenerationMetadata []GenerationMetadata `db:"-" json:"generation_metadata"`
}

// ProducedBy reports whether any metadata row attributes m to modelID
func (m *Message) ProducedBy(modelID int64) bool {
	for _, meta := range m.GenerationMetadata {
		if meta.ModelID == modelID {
			return true
		}
	}
	return false
}

// Producer returns the first metadata row, which identifies the model that
// produced an assistant message
func (m *Message) Producer() (*GenerationMetadata, bool) {
	if len(m.GenerationMetadata) == 0 {
		return nil, false
	}
	return &m.GenerationMetadata[0], true
}
