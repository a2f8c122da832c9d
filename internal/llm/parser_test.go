package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtractSQL 测试模型输出清理
func TestExtractSQL(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			"纯SQL输出",
			"SELECT name FROM products LIMIT 3",
			"SELECT name FROM products LIMIT 3;",
		},
		{
			"已带分号",
			"SELECT name FROM products LIMIT 3;",
			"SELECT name FROM products LIMIT 3;",
		},
		{
			"markdown围栏",
			"```sql\nSELECT COUNT(*) FROM orders\n```",
			"SELECT COUNT(*) FROM orders;",
		},
		{
			"无语言标记的围栏",
			"```\nSELECT COUNT(*) FROM orders;\n```",
			"SELECT COUNT(*) FROM orders;",
		},
		{
			"SQL Query前缀",
			"SQL Query: SELECT id FROM orders WHERE amount > 100",
			"SELECT id FROM orders WHERE amount > 100;",
		},
		{
			"首尾空白",
			"   \n SELECT 1 + 1 AS total \n  ",
			"SELECT 1 + 1 AS total;",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ExtractSQL(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

// TestExtractSQL_Incomplete 测试截断SQL识别
func TestExtractSQL_Incomplete(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"空输出", ""},
		{"纯空白", "   \n  "},
		{"少于3个词", "SELECT *"},
		{"FROM后截断", "SELECT * FROM"},
		{"FROM后截断带分号", "SELECT * FROM;"},
		{"WHERE后截断", "SELECT id FROM orders WHERE"},
		{"AND后截断", "SELECT id FROM orders WHERE x = 1 AND"},
		{"ORDER BY后截断", "SELECT id FROM orders ORDER BY"},
		{"比较符后截断", "SELECT id FROM orders WHERE amount >"},
		{"括号不配对", "SELECT id FROM orders WHERE id IN (1, 2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractSQL(tc.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIncompleteSQL)
		})
	}
}
