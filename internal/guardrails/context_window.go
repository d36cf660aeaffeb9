package guardrails

import "loopsync/backend/internal/models"

// ManageContext keeps every system message, placed first, followed by the
// last maxLength conversational messages in their original order.
func ManageContext(messages []models.ChatMessage, maxLength int) []models.ChatMessage {
	if len(messages) == 0 {
		return []models.ChatMessage{}
	}

	var system, conversation []models.ChatMessage
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			conversation = append(conversation, m)
		}
	}

	if maxLength <= 0 {
		conversation = nil
	} else if len(conversation) > maxLength {
		conversation = conversation[len(conversation)-maxLength:]
	}

	out := make([]models.ChatMessage, 0, len(system)+len(conversation))
	out = append(out, system...)
	return append(out, conversation...)
}
