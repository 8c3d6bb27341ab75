package chat

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
)

func TestContextLine(t *testing.T) {
	content := "hi there"
	m := &Message{Role: RoleAssistant, Content: &content}
	assert.Equal(t, "Assistant: hi there", m.ContextLine())

	user := &Message{Role: RoleUser, Content: &content}
	assert.Equal(t, "User: hi there", user.ContextLine())

	for _, role := range []string{RoleSystem, RoleIntrospection} {
		empty := &Message{Role: role}
		assert.Equal(t, "Assistant: ", empty.ContextLine(), role)
	}
}

func TestVectorAndText(t *testing.T) {
	var m *Message
	assert.Nil(t, m.Vector())
	assert.Equal(t, "", m.Text())

	v := pgvector.NewVector([]float32{1, 2})
	m = &Message{Embedding: &v}
	assert.Equal(t, []float32{1, 2}, m.Vector())
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleUser, RoleAssistant, RoleSystem, RoleIntrospection} {
		assert.True(t, ValidRole(r))
	}
	assert.False(t, ValidRole("tool"))
}
