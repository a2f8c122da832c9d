package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// DataSanitizerTestSuite 数据脱敏器测试套件
type DataSanitizerTestSuite struct {
	suite.Suite
	sanitizer *DataSanitizer
}

func (suite *DataSanitizerTestSuite) SetupSuite() {
	suite.sanitizer = NewDataSanitizer(nil, zap.NewNop())
}

func TestDataSanitizerSuite(t *testing.T) {
	suite.Run(t, new(DataSanitizerTestSuite))
}

// TestSanitizeSchema_RemovesSensitiveTables 测试敏感表定义移除
func (suite *DataSanitizerTestSuite) TestSanitizeSchema_RemovesSensitiveTables() {
	schema := `CREATE TABLE products (
	id INT PRIMARY KEY,
	name VARCHAR(100),
	price DECIMAL
);
CREATE TABLE credentials (
	id INT PRIMARY KEY,
	secret VARCHAR(255)
);`

	result := suite.sanitizer.SanitizeSchema(schema)

	assert.Contains(suite.T(), result, "products", "非敏感表应保留")
	assert.NotContains(suite.T(), result, "secret VARCHAR", "敏感表的列定义应被移除")
	assert.NotContains(suite.T(), result, "credentials", "表名本身也不应出现")
	assert.Contains(suite.T(), result, "removed for security")
}

// TestSanitizeSchema_RedactsTableReferences 测试残余表名引用替换
func (suite *DataSanitizerTestSuite) TestSanitizeSchema_RedactsTableReferences() {
	schema := "-- foreign key to payroll\nCREATE TABLE departments (id INT);"

	result := suite.sanitizer.SanitizeSchema(schema)

	assert.NotContains(suite.T(), result, "payroll")
	assert.Contains(suite.T(), result, RedactedTable)
	assert.Contains(suite.T(), result, "departments")
}

// TestSanitizeSchema_RedactsColumnNames 测试敏感列名替换
func (suite *DataSanitizerTestSuite) TestSanitizeSchema_RedactsColumnNames() {
	schema := "CREATE TABLE staff (id INT, salary DECIMAL, title VARCHAR(50));"

	result := suite.sanitizer.SanitizeSchema(schema)

	assert.NotContains(suite.T(), result, "salary")
	assert.Contains(suite.T(), result, RedactedColumn)
	assert.Contains(suite.T(), result, "title")
}

// TestSanitizeResults_ValuePatterns 测试值模式脱敏
func (suite *DataSanitizerTestSuite) TestSanitizeResults_ValuePatterns() {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"信用卡号", "card: 4111-1111-1111-1111", "card: " + RedactedValue},
		{"信用卡号无分隔符", "card: 4111111111111111", "card: " + RedactedValue},
		{"邮箱地址", "contact alice@example.com now", "contact " + RedactedValue + " now"},
		{"社会保障号", "ssn is 123-45-6789", "ssn is " + RedactedValue},
		{"电话号码", "call 13800138000", "call " + RedactedValue},
		{"IP地址", "from 192.168.1.100", "from " + RedactedIP},
		{"IBAN账号", "iban DE89370400440532013000", "iban " + RedactedIBAN},
		{"疑似IBAN但过短", "code DE89ABC1234", "code DE89ABC1234"},
		{"无敏感内容", "total is 42", "total is 42"},
		{"空字符串", "", ""},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			assert.Equal(suite.T(), tc.expected, suite.sanitizer.SanitizeResults(tc.input))
		})
	}
}

// TestSanitizeResults_Idempotent 测试脱敏幂等性
func (suite *DataSanitizerTestSuite) TestSanitizeResults_Idempotent() {
	input := "alice@example.com paid with 4111 1111 1111 1111"

	once := suite.sanitizer.SanitizeResults(input)
	twice := suite.sanitizer.SanitizeResults(once)

	assert.Equal(suite.T(), once, twice)
	assert.NotContains(suite.T(), once, "alice@example.com")
	assert.NotContains(suite.T(), once, "4111")
}

// TestSanitizeRows 测试结构化结果脱敏
func (suite *DataSanitizerTestSuite) TestSanitizeRows() {
	rows := []map[string]any{
		{"id": int64(1), "email": "bob@shop.com", "city": "Berlin"},
		{"id": int64(2), "email": "eve@shop.com", "city": "reach me at eve@shop.com"},
	}

	result := suite.sanitizer.SanitizeRows(rows)

	assert.Len(suite.T(), result, 2)
	assert.Equal(suite.T(), RedactedValue, result[0]["email"], "敏感列整体掩码")
	assert.Equal(suite.T(), "Berlin", result[0]["city"])
	assert.NotContains(suite.T(), result[1]["city"].(string), "eve@shop.com", "普通列应用值模式")
	// 原始数据不被修改
	assert.Equal(suite.T(), "bob@shop.com", rows[0]["email"])
}

// TestBuildSafePrompt 测试安全提示词构建
func (suite *DataSanitizerTestSuite) TestBuildSafePrompt() {
	schema := "CREATE TABLE payments (id INT, amount DECIMAL);"

	prompt := suite.sanitizer.BuildSafePrompt("how many payments last month?", schema)

	assert.NotContains(suite.T(), prompt, "payments (id INT")
	assert.Contains(suite.T(), prompt, "how many payments last month?")
	assert.True(suite.T(), strings.Contains(prompt, "redacted") || strings.Contains(prompt, "Redacted"))
}

// TestCustomConfig 测试自定义敏感列表
func TestCustomConfig(t *testing.T) {
	s := NewDataSanitizer(&SanitizerConfig{
		SensitiveTables:     []string{"invoices"},
		SensitiveColumns:    []string{"tax_id"},
		EnableValuePatterns: false,
	}, zap.NewNop())

	result := s.SanitizeSchema("CREATE TABLE invoices (tax_id INT);\nSELECT * FROM orders")
	assert.NotContains(t, result, "invoices")
	assert.Contains(t, result, "orders")

	// 值模式关闭时邮箱保留
	assert.Equal(t, "mail x@y.com", s.SanitizeResults("mail x@y.com"))
}
