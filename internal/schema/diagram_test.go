package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlchat-go/internal/repository"
)

// TestSampleDiagram 测试内置示例Schema完整性
func TestSampleDiagram(t *testing.T) {
	d := SampleDiagram()

	require.Len(t, d.Tables, 3)
	require.Len(t, d.Relationships, 2)

	names := make(map[string]bool)
	for _, table := range d.Tables {
		names[table.Name] = true
		assert.NotEmpty(t, table.Columns)
	}
	assert.True(t, names["customers"])
	assert.True(t, names["products"])
	assert.True(t, names["orders"])
}

// TestDiagram_Mermaid 测试mermaid渲染
func TestDiagram_Mermaid(t *testing.T) {
	mermaid := SampleDiagram().Mermaid()

	assert.True(t, strings.HasPrefix(mermaid, "erDiagram\n"))
	assert.Contains(t, mermaid, "customers {")
	assert.Contains(t, mermaid, "integer id PK")
	assert.Contains(t, mermaid, "integer customer_id FK")
	assert.Contains(t, mermaid, `customers ||--o{ orders : "places"`)
	// 类型中的括号必须被归一，否则mermaid解析失败
	assert.NotContains(t, mermaid, "(10,2)")
}

// TestDiagram_Markdown 测试markdown渲染
func TestDiagram_Markdown(t *testing.T) {
	md := SampleDiagram().Markdown()

	assert.Contains(t, md, "# Schema: ecommerce-sample")
	assert.Contains(t, md, "## customers")
	assert.Contains(t, md, "| id | INTEGER | PRIMARY KEY |")
	assert.Contains(t, md, "FOREIGN KEY -> customers.id")
	assert.Contains(t, md, "## Relationships")
}

// TestFromMetadata 测试元数据转换
func TestFromMetadata(t *testing.T) {
	refTable := "departments"
	refColumn := "id"

	metadata := []*repository.SchemaMetadata{
		{TableName: "departments", ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
		{TableName: "departments", ColumnName: "name", DataType: "text", OrdinalPosition: 2},
		{TableName: "staff", ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
		{
			TableName: "staff", ColumnName: "department_id", DataType: "integer",
			IsForeignKey: true, ReferencedTable: &refTable, ReferencedColumn: &refColumn,
			OrdinalPosition: 2,
		},
	}

	d := FromMetadata("hr", metadata)

	require.Len(t, d.Tables, 2)
	assert.Equal(t, "departments", d.Tables[0].Name, "表按名称排序")
	require.Len(t, d.Relationships, 1)
	assert.Equal(t, "departments", d.Relationships[0].FromTable)
	assert.Equal(t, "staff", d.Relationships[0].ToTable)

	mermaid := d.Mermaid()
	assert.Contains(t, mermaid, "staff {")
	assert.Contains(t, mermaid, `departments ||--o{ staff : "references"`)
}

// TestSampleQuestions 测试示例问题分类
func TestSampleQuestions(t *testing.T) {
	categories := SampleQuestions()

	require.Len(t, categories, 3)
	for _, c := range categories {
		assert.NotEmpty(t, c.Category)
		assert.NotEmpty(t, c.Questions)
	}
}
