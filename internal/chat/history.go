package chat

import (
	"time"

	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
)

// ProjectHistory returns the turns modelID has seen: every user message and
// only the assistant messages that modelID itself produced. messages must
// be ordered; a non-nil before drops everything not created strictly
// earlier.
func ProjectHistory(messages []models.Message, modelID int64, before *time.Time) []providers.Turn {
	turns := make([]providers.Turn, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}

		switch msg.Role {
		case models.RoleUser:
		case models.RoleAssistant:
			if !msg.ProducedBy(modelID) {
				continue
			}
		default:
			continue
		}

		turns = append(turns, providers.Turn{Role: string(msg.Role), Content: msg.Content})
	}
	return turns
}

// buildTurns frames a projected history with the system prompt and the new
// user turn
func buildTurns(systemPrompt string, history []providers.Turn, userContent string) []providers.Turn {
	turns := make([]providers.Turn, 0, len(history)+2)
	turns = append(turns, providers.Turn{Role: string(models.RoleSystem), Content: systemPrompt})
	turns = append(turns, history...)
	turns = append(turns, providers.Turn{Role: string(models.RoleUser), Content: userContent})
	return turns
}
