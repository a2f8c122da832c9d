package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// QueryGuardTestSuite 查询守卫测试套件
type QueryGuardTestSuite struct {
	suite.Suite
	guard *QueryGuard
}

func (suite *QueryGuardTestSuite) SetupSuite() {
	suite.guard = NewQueryGuard(nil, zap.NewNop())
}

func TestQueryGuardSuite(t *testing.T) {
	suite.Run(t, new(QueryGuardTestSuite))
}

// TestValidate_AllowsReadOnlyQueries 测试只读查询放行
func (suite *QueryGuardTestSuite) TestValidate_AllowsReadOnlyQueries() {
	testCases := []struct {
		name string
		sql  string
	}{
		{"简单查询", "SELECT id, name FROM products WHERE price > 10;"},
		{"聚合查询", "SELECT category, COUNT(*) FROM products GROUP BY category"},
		{"CTE查询", "WITH top AS (SELECT * FROM orders LIMIT 10) SELECT * FROM top"},
		{"EXPLAIN查询", "EXPLAIN SELECT * FROM orders"},
		{"关键词出现在标识符中", "SELECT created_at, updated_by FROM orders"},
		{"关键词出现在字符串中", "SELECT * FROM orders WHERE note = 'please DROP this'"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			result := suite.guard.Validate(tc.sql)
			assert.True(suite.T(), result.Allowed, "应放行: %s, 原因: %s", tc.sql, result.Reason)
		})
	}
}

// TestValidate_BlocksDangerousOperations 测试危险操作拦截
func (suite *QueryGuardTestSuite) TestValidate_BlocksDangerousOperations() {
	testCases := []struct {
		name    string
		sql     string
		keyword string
	}{
		{"删表", "DROP TABLE orders", "DROP"},
		{"删数据", "DELETE FROM orders WHERE id = 1", "DELETE"},
		{"清空表", "TRUNCATE TABLE orders", "TRUNCATE"},
		{"改表结构", "ALTER TABLE orders ADD COLUMN x INT", "ALTER"},
		{"建表", "CREATE TABLE evil (id INT)", "CREATE"},
		{"插入", "INSERT INTO orders VALUES (1)", "INSERT"},
		{"更新", "UPDATE orders SET amount = 0", "UPDATE"},
		{"授权", "GRANT ALL ON orders TO intruder", "GRANT"},
		{"回收权限", "REVOKE ALL ON orders FROM app", "REVOKE"},
		{"执行过程", "EXEC sp_dropuser 'admin'", "EXEC"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			result := suite.guard.Validate(tc.sql)
			assert.False(suite.T(), result.Allowed)
			assert.NotEmpty(suite.T(), result.Reason)
		})
	}
}

// TestValidate_BlocksSubqueryMutations 测试只读语句内嵌危险关键词的拦截
func (suite *QueryGuardTestSuite) TestValidate_BlocksSubqueryMutations() {
	result := suite.guard.Validate("SELECT 1; DROP TABLE orders;")
	assert.False(suite.T(), result.Allowed)
	assert.Contains(suite.T(), result.Reason, "多条语句")
}

// TestValidate_BlocksSensitiveTables 测试敏感表访问拦截
func (suite *QueryGuardTestSuite) TestValidate_BlocksSensitiveTables() {
	result := suite.guard.Validate("SELECT * FROM payroll")

	assert.False(suite.T(), result.Allowed)
	assert.Equal(suite.T(), "payroll", result.MatchedKeyword)
	assert.Contains(suite.T(), result.Reason, "敏感表")
}

// TestValidate_BlocksComments 测试SQL注释拦截
func (suite *QueryGuardTestSuite) TestValidate_BlocksComments() {
	testCases := []string{
		"SELECT * FROM orders -- hidden",
		"SELECT * FROM orders /* hidden */",
	}

	for _, sql := range testCases {
		result := suite.guard.Validate(sql)
		assert.False(suite.T(), result.Allowed, "应拦截: %s", sql)
		assert.Contains(suite.T(), result.Reason, "注释")
	}
}

// TestValidate_EdgeCases 测试边界情况
func (suite *QueryGuardTestSuite) TestValidate_EdgeCases() {
	suite.Run("空SQL", func() {
		result := suite.guard.Validate("   ")
		assert.False(suite.T(), result.Allowed)
	})

	suite.Run("超长SQL", func() {
		sql := "SELECT " + strings.Repeat("1,", 4000) + "1"
		result := suite.guard.Validate(sql)
		assert.False(suite.T(), result.Allowed)
		assert.Contains(suite.T(), result.Reason, "长度")
	})

	suite.Run("字符串内分号不算多语句", func() {
		result := suite.guard.Validate("SELECT * FROM orders WHERE note = 'a;b'")
		assert.True(suite.T(), result.Allowed, result.Reason)
	})
}

// TestDetectQueryType 测试语句类型识别
func (suite *QueryGuardTestSuite) TestDetectQueryType() {
	assert.Equal(suite.T(), "SELECT", suite.guard.Validate("SELECT 1").QueryType)
	assert.Equal(suite.T(), "WITH", suite.guard.Validate("WITH t AS (SELECT 1) SELECT * FROM t").QueryType)
	assert.Equal(suite.T(), "DROP", suite.guard.Validate("DROP TABLE x").QueryType)
}

// TestGetSecurityReport 测试安全报告生成
func (suite *QueryGuardTestSuite) TestGetSecurityReport() {
	report := suite.guard.GetSecurityReport("SELECT * FROM orders")

	assert.Equal(suite.T(), true, report["allowed"])
	assert.Equal(suite.T(), "SELECT", report["query_type"])
	assert.Equal(suite.T(), 1, report["statement_count"])
}
