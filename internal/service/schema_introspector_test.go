package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlchat-go/internal/repository"
)

func sampleMetadata() []*repository.SchemaMetadata {
	refTable := "customers"
	refColumn := "id"

	return []*repository.SchemaMetadata{
		{TableName: "orders", ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
		{
			TableName: "orders", ColumnName: "customer_id", DataType: "integer",
			IsForeignKey: true, ReferencedTable: &refTable, ReferencedColumn: &refColumn,
			OrdinalPosition: 2,
		},
		{TableName: "orders", ColumnName: "amount", DataType: "numeric", IsNullable: true, OrdinalPosition: 3},
		{TableName: "customers", ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
		{TableName: "customers", ColumnName: "name", DataType: "character varying", OrdinalPosition: 2},
	}
}

// TestRenderSchemaDDL 测试CREATE TABLE文本渲染
func TestRenderSchemaDDL(t *testing.T) {
	ddl := RenderSchemaDDL(sampleMetadata())

	t.Run("表按名称排序", func(t *testing.T) {
		customersIdx := strings.Index(ddl, "CREATE TABLE customers")
		ordersIdx := strings.Index(ddl, "CREATE TABLE orders")
		require.GreaterOrEqual(t, customersIdx, 0)
		require.GreaterOrEqual(t, ordersIdx, 0)
		assert.Less(t, customersIdx, ordersIdx)
	})

	t.Run("主键和外键标注", func(t *testing.T) {
		assert.Contains(t, ddl, "id INTEGER PRIMARY KEY")
		assert.Contains(t, ddl, "customer_id INTEGER NOT NULL REFERENCES customers(id)")
	})

	t.Run("可空列无NOT NULL", func(t *testing.T) {
		assert.Contains(t, ddl, "amount NUMERIC\n")
	})

	t.Run("语句以分号结束", func(t *testing.T) {
		assert.True(t, strings.HasSuffix(ddl, ");"))
	})
}

// TestRenderSchemaDDL_Empty 测试空元数据
func TestRenderSchemaDDL_Empty(t *testing.T) {
	assert.Equal(t, "", RenderSchemaDDL(nil))
}

// TestTableSummary 测试单表摘要
func TestTableSummary(t *testing.T) {
	summary := TableSummary("orders", sampleMetadata())

	assert.True(t, strings.HasPrefix(summary, "orders: "))
	assert.Contains(t, summary, "id(PK)")
	assert.Contains(t, summary, "customer_id(FK)")
	assert.Contains(t, summary, "amount")
	assert.NotContains(t, summary, "name")
}
