// 提示词模板管理 - SQL生成和答案生成两个阶段的模板
// 基于LangChainGo prompts包实现变量渲染，对话历史按轮拼接

package llm

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// SQL生成模板
// 要求模型只输出SQL本身，不带markdown围栏和解释
const sqlTemplate = `You are a data analyst. Based on the table schema below, write a SQL query that would answer the user's question. Take the conversation history into account.

<SCHEMA>{{.schema}}</SCHEMA>

Conversation History:
{{.history}}

Write only the SQL query and nothing else. Do not wrap the SQL query in any other text, not even backticks.

For example:
Question: which 3 products have the most orders?
SQL Query: SELECT p.name, COUNT(o.id) AS order_count FROM products p JOIN orders o ON o.product_name = p.name GROUP BY p.name ORDER BY order_count DESC LIMIT 3;
Question: name 10 customers
SQL Query: SELECT name FROM customers LIMIT 10;

Your turn:

Question: {{.question}}
SQL Query:`

// 答案生成模板
// 基于SQL和执行结果生成自然语言回答
const answerTemplate = `You are a data analyst. Based on the table schema below, question, sql query, and sql response, write a natural language response. Take the conversation history into account.

<SCHEMA>{{.schema}}</SCHEMA>

Conversation History:
{{.history}}

SQL Query: <SQL>{{.sql}}</SQL>
Question: {{.question}}
SQL Response: {{.results}}

Natural language response:`

// PromptBuilder 提示词构建器
type PromptBuilder struct {
	sqlPrompt    prompts.PromptTemplate
	answerPrompt prompts.PromptTemplate
	logger       *zap.Logger
}

// NewPromptBuilder 创建提示词构建器
func NewPromptBuilder(logger *zap.Logger) *PromptBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PromptBuilder{
		sqlPrompt: prompts.PromptTemplate{
			Template:       sqlTemplate,
			InputVariables: []string{"schema", "history", "question"},
			TemplateFormat: prompts.TemplateFormatGoTemplate,
		},
		answerPrompt: prompts.PromptTemplate{
			Template:       answerTemplate,
			InputVariables: []string{"schema", "history", "sql", "question", "results"},
			TemplateFormat: prompts.TemplateFormatGoTemplate,
		},
		logger: logger,
	}
}

// BuildSQLPrompt 渲染SQL生成提示词
func (b *PromptBuilder) BuildSQLPrompt(schema, question string, history []*repository.ChatMessage) (string, error) {
	rendered, err := b.sqlPrompt.Format(map[string]any{
		"schema":   schema,
		"history":  FormatHistory(history),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("渲染SQL提示词失败: %w", err)
	}
	return rendered, nil
}

// BuildAnswerPrompt 渲染答案生成提示词
func (b *PromptBuilder) BuildAnswerPrompt(schema, question, sql, results string, history []*repository.ChatMessage) (string, error) {
	rendered, err := b.answerPrompt.Format(map[string]any{
		"schema":   schema,
		"history":  FormatHistory(history),
		"sql":      sql,
		"question": question,
		"results":  results,
	})
	if err != nil {
		return "", fmt.Errorf("渲染答案提示词失败: %w", err)
	}
	return rendered, nil
}

// FormatHistory 将对话消息拼接为提示词中的历史块
// 空历史返回占位文本，避免模板出现空段
func FormatHistory(history []*repository.ChatMessage) string {
	if len(history) == 0 {
		return "(no previous conversation)"
	}

	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case repository.MessageRoleUser:
			b.WriteString("Human: ")
		case repository.MessageRoleAssistant:
			b.WriteString("AI: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
