package guardrails

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsync/backend/internal/models"
)

func msg(role models.Role, content string) models.ChatMessage {
	return models.ChatMessage{Role: role, Content: content}
}

func TestManageContextKeepsSystemAndTail(t *testing.T) {
	in := []models.ChatMessage{msg(models.RoleSystem, "sys-1")}
	for i := 0; i < 15; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		in = append(in, msg(role, fmt.Sprintf("m%d", i)))
	}
	in = append(in, msg(models.RoleSystem, "sys-2"))

	out := ManageContext(in, 10)
	require.Len(t, out, 12)
	assert.Equal(t, "sys-1", out[0].Content)
	assert.Equal(t, "sys-2", out[1].Content)
	assert.Equal(t, "m5", out[2].Content)
	assert.Equal(t, "m14", out[11].Content)
}

func TestManageContextEdgeCases(t *testing.T) {
	assert.Empty(t, ManageContext(nil, 10))
	assert.NotNil(t, ManageContext(nil, 10))

	in := []models.ChatMessage{msg(models.RoleSystem, "s"), msg(models.RoleUser, "u")}
	out := ManageContext(in, 0)
	require.Len(t, out, 1)
	assert.Equal(t, models.RoleSystem, out[0].Role)

	out = ManageContext(in, 10)
	assert.Len(t, out, 2)
}
