// 数据脱敏器 - 在Schema和查询结果送往云端模型前做正则脱敏
// 注意：脱敏仅是纵深防御手段，不能替代数据库侧的权限控制

package security

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// 脱敏替换标记
const (
	RedactedValue  = "[REDACTED]"
	RedactedTable  = "[REDACTED_TABLE]"
	RedactedColumn = "[REDACTED_COLUMN]"
	RedactedIP     = "[REDACTED_IP]"
	RedactedIBAN   = "[REDACTED_IBAN]"
)

// SanitizerConfig 脱敏器配置
type SanitizerConfig struct {
	// 敏感表名列表（小写），整张表的建表语句会被移除
	SensitiveTables []string `json:"sensitive_tables"`

	// 敏感列名列表（小写），列名和列值都会被替换
	SensitiveColumns []string `json:"sensitive_columns"`

	// 是否启用值模式脱敏（信用卡号、邮箱等）
	EnableValuePatterns bool `json:"enable_value_patterns"`
}

// DefaultSanitizerConfig 返回默认脱敏配置
func DefaultSanitizerConfig() *SanitizerConfig {
	return &SanitizerConfig{
		SensitiveTables: []string{
			"users", "customers", "employees", "payroll",
			"accounts", "credentials", "payments",
		},
		SensitiveColumns: []string{
			"password", "ssn", "credit_card", "salary", "email",
			"phone", "address", "account_number", "iban",
		},
		EnableValuePatterns: true,
	}
}

// valuePattern 值级脱敏规则
type valuePattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// DataSanitizer 数据脱敏器
// 对Schema文本和查询结果做三层处理：敏感表移除、敏感列替换、敏感值正则替换
type DataSanitizer struct {
	config   *SanitizerConfig
	patterns []valuePattern

	// 预编译的敏感表/列正则，key为原始名称
	tableRefs    map[string]*regexp.Regexp
	createBlocks map[string]*regexp.Regexp
	columnRefs   map[string]*regexp.Regexp

	logger *zap.Logger
}

// NewDataSanitizer 创建数据脱敏器，config为nil时使用默认配置
func NewDataSanitizer(config *SanitizerConfig, logger *zap.Logger) *DataSanitizer {
	if config == nil {
		config = DefaultSanitizerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DataSanitizer{
		config:       config,
		tableRefs:    make(map[string]*regexp.Regexp, len(config.SensitiveTables)),
		createBlocks: make(map[string]*regexp.Regexp, len(config.SensitiveTables)),
		columnRefs:   make(map[string]*regexp.Regexp, len(config.SensitiveColumns)),
		logger:       logger,
	}

	s.compilePatterns()
	return s
}

// compilePatterns 预编译所有脱敏正则
func (s *DataSanitizer) compilePatterns() {
	// 值模式按固定顺序应用：信用卡 -> 邮箱 -> SSN -> IBAN -> IP -> 电话
	// 电话规则（10-11位连续数字）放在最后，避免吞掉信用卡号的一部分
	s.patterns = []valuePattern{
		{"credit_card", regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), RedactedValue},
		{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), RedactedValue},
		{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), RedactedValue},
		{"iban", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`), RedactedIBAN},
		{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), RedactedIP},
		{"phone", regexp.MustCompile(`\b\d{10,11}\b`), RedactedValue},
	}

	for _, table := range s.config.SensitiveTables {
		quoted := regexp.QuoteMeta(table)
		// 整段CREATE TABLE定义，含可选的反引号和结尾分号
		s.createBlocks[table] = regexp.MustCompile(
			`(?is)CREATE\s+TABLE\s+` + "`?" + quoted + "`?" + `\s*\([^)]*\)\s*;?`)
		// 其余位置的表名引用
		s.tableRefs[table] = regexp.MustCompile(`(?i)\b` + quoted + `\b`)
	}

	for _, column := range s.config.SensitiveColumns {
		s.columnRefs[column] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(column) + `\b`)
	}
}

// SanitizeSchema 对Schema文本脱敏
// 处理顺序固定：移除敏感表定义 -> 替换残余表名引用 -> 替换敏感列名 -> 值模式替换
func (s *DataSanitizer) SanitizeSchema(schema string) string {
	if schema == "" {
		return ""
	}

	result := schema
	removedTables := 0

	for table, block := range s.createBlocks {
		if block.MatchString(result) {
			result = block.ReplaceAllString(result,
				fmt.Sprintf("-- Table %s removed for security", table))
			removedTables++
		}
		result = s.tableRefs[table].ReplaceAllString(result, RedactedTable)
	}

	for _, ref := range s.columnRefs {
		result = ref.ReplaceAllString(result, RedactedColumn)
	}

	result = s.applyValuePatterns(result)

	if removedTables > 0 {
		s.logger.Debug("Schema脱敏完成",
			zap.Int("removed_tables", removedTables),
			zap.Int("schema_length", len(result)))
	}

	return result
}

// SanitizeResults 对查询结果文本脱敏，只应用值模式替换
func (s *DataSanitizer) SanitizeResults(results string) string {
	if results == "" {
		return ""
	}
	return s.applyValuePatterns(results)
}

// SanitizeRows 对结构化查询结果逐格脱敏
// 敏感列的值整体掩码，其余列应用值模式替换；返回新切片，不修改入参
func (s *DataSanitizer) SanitizeRows(rows []map[string]any) []map[string]any {
	if len(rows) == 0 {
		return rows
	}

	sanitized := make([]map[string]any, 0, len(rows))
	redactedCells := 0

	for _, row := range rows {
		clean := make(map[string]any, len(row))
		for col, val := range row {
			if s.isSensitiveColumn(col) {
				clean[col] = RedactedValue
				redactedCells++
				continue
			}
			if str, ok := val.(string); ok {
				masked := s.applyValuePatterns(str)
				if masked != str {
					redactedCells++
				}
				clean[col] = masked
				continue
			}
			clean[col] = val
		}
		sanitized = append(sanitized, clean)
	}

	if redactedCells > 0 {
		s.logger.Info("查询结果脱敏完成",
			zap.Int("rows", len(rows)),
			zap.Int("redacted_cells", redactedCells))
	}

	return sanitized
}

// BuildSafePrompt 构建包含脱敏Schema的安全提示词
func (s *DataSanitizer) BuildSafePrompt(question, schema string) string {
	safeSchema := s.SanitizeSchema(schema)

	var b strings.Builder
	b.WriteString("You are a SQL assistant. Some tables and columns have been redacted for privacy.\n")
	b.WriteString("Never guess at or reference redacted data. If the question requires redacted data, say so.\n\n")
	b.WriteString("Database schema:\n")
	b.WriteString(safeSchema)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)

	return b.String()
}

// applyValuePatterns 按固定顺序应用值模式替换
func (s *DataSanitizer) applyValuePatterns(text string) string {
	if !s.config.EnableValuePatterns {
		return text
	}
	for _, p := range s.patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}

// isSensitiveColumn 判断列名是否在敏感列表中（不区分大小写）
func (s *DataSanitizer) isSensitiveColumn(column string) bool {
	lower := strings.ToLower(column)
	for _, c := range s.config.SensitiveColumns {
		if lower == c {
			return true
		}
	}
	return false
}

// SensitiveTables 返回敏感表列表，供查询校验器共用
func (s *DataSanitizer) SensitiveTables() []string {
	return s.config.SensitiveTables
}
