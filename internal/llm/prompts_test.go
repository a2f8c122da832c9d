package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// TestBuildSQLPrompt 测试SQL提示词渲染
func TestBuildSQLPrompt(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	schema := "CREATE TABLE products (id INT, name VARCHAR(100));"
	history := []*repository.ChatMessage{
		{Role: repository.MessageRoleUser, Content: "how many products?"},
		{Role: repository.MessageRoleAssistant, Content: "There are 42 products."},
	}

	prompt, err := builder.BuildSQLPrompt(schema, "list the top 3 products", history)
	require.NoError(t, err)

	assert.Contains(t, prompt, "<SCHEMA>"+schema+"</SCHEMA>")
	assert.Contains(t, prompt, "Human: how many products?")
	assert.Contains(t, prompt, "AI: There are 42 products.")
	assert.Contains(t, prompt, "Question: list the top 3 products")
	assert.Contains(t, prompt, "not even backticks")
}

// TestBuildAnswerPrompt 测试答案提示词渲染
func TestBuildAnswerPrompt(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	prompt, err := builder.BuildAnswerPrompt(
		"CREATE TABLE orders (id INT);",
		"how many orders?",
		"SELECT COUNT(*) FROM orders;",
		`[{"count":7}]`,
		nil,
	)
	require.NoError(t, err)

	assert.Contains(t, prompt, "<SQL>SELECT COUNT(*) FROM orders;</SQL>")
	assert.Contains(t, prompt, "Question: how many orders?")
	assert.Contains(t, prompt, `[{"count":7}]`)
	assert.Contains(t, prompt, "(no previous conversation)")
}

// TestFormatHistory 测试历史块拼接
func TestFormatHistory(t *testing.T) {
	t.Run("空历史", func(t *testing.T) {
		assert.Equal(t, "(no previous conversation)", FormatHistory(nil))
	})

	t.Run("多轮历史", func(t *testing.T) {
		history := []*repository.ChatMessage{
			{Role: repository.MessageRoleUser, Content: "q1"},
			{Role: repository.MessageRoleAssistant, Content: "a1"},
			{Role: repository.MessageRoleUser, Content: "q2"},
		}

		formatted := FormatHistory(history)
		assert.Equal(t, "Human: q1\nAI: a1\nHuman: q2", formatted)
	})
}
