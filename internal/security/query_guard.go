// SQL查询守卫 - 生成SQL在执行前的黑名单校验
// 只放行只读查询，拦截所有写操作、DDL和权限类语句

package security

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// 危险操作关键词，命中即拦截
var dangerousOperations = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
	"INSERT", "UPDATE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "BACKUP", "RESTORE",
}

// 允许的语句起始关键词（只读白名单）
var allowedStatements = []string{"SELECT", "WITH", "EXPLAIN", "SHOW"}

// GuardConfig 查询守卫配置
type GuardConfig struct {
	// 敏感表名列表，生成SQL中出现即拦截
	SensitiveTables []string `json:"sensitive_tables"`

	// 最大SQL长度
	MaxQueryLength int `json:"max_query_length"`

	// 是否拦截SQL注释
	BlockComments bool `json:"block_comments"`
}

// DefaultGuardConfig 返回默认守卫配置，敏感表与脱敏器保持一致
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		SensitiveTables: DefaultSanitizerConfig().SensitiveTables,
		MaxQueryLength:  5000,
		BlockComments:   true,
	}
}

// GuardResult 校验结果
type GuardResult struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	MatchedKeyword string `json:"matched_keyword,omitempty"`
	QueryType      string `json:"query_type"`
}

// QueryGuard SQL查询守卫
// 纯内存校验，无任何I/O，可安全并发使用
type QueryGuard struct {
	config *GuardConfig

	keywordRes map[string]*regexp.Regexp
	tableRes   map[string]*regexp.Regexp
	commentRes []*regexp.Regexp
	logger     *zap.Logger
}

// NewQueryGuard 创建查询守卫，config为nil时使用默认配置
func NewQueryGuard(config *GuardConfig, logger *zap.Logger) *QueryGuard {
	if config == nil {
		config = DefaultGuardConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &QueryGuard{
		config:     config,
		keywordRes: make(map[string]*regexp.Regexp, len(dangerousOperations)),
		tableRes:   make(map[string]*regexp.Regexp, len(config.SensitiveTables)),
		logger:     logger,
	}

	for _, kw := range dangerousOperations {
		g.keywordRes[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	for _, table := range config.SensitiveTables {
		g.tableRes[table] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(table) + `\b`)
	}
	g.commentRes = []*regexp.Regexp{
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*`),
		regexp.MustCompile(`(?m)^\s*#`),
	}

	return g
}

// Validate 校验一条生成的SQL
// 校验顺序：非空 -> 长度 -> 语句数 -> 注释 -> 白名单起始 -> 危险关键词 -> 敏感表
func (g *QueryGuard) Validate(sql string) *GuardResult {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &GuardResult{Allowed: false, Reason: "SQL语句为空", QueryType: "UNKNOWN"}
	}

	if len(trimmed) > g.config.MaxQueryLength {
		return &GuardResult{
			Allowed:   false,
			Reason:    fmt.Sprintf("SQL长度超过限制（%d字符）", g.config.MaxQueryLength),
			QueryType: g.detectQueryType(trimmed),
		}
	}

	queryType := g.detectQueryType(trimmed)

	if count := g.statementCount(trimmed); count > 1 {
		return &GuardResult{
			Allowed:   false,
			Reason:    fmt.Sprintf("不允许多条语句（检测到%d条）", count),
			QueryType: queryType,
		}
	}

	if g.config.BlockComments {
		stripped := stripStringLiterals(trimmed)
		for _, re := range g.commentRes {
			if re.MatchString(stripped) {
				return &GuardResult{
					Allowed:   false,
					Reason:    "SQL中包含注释，疑似注入",
					QueryType: queryType,
				}
			}
		}
	}

	if !g.isAllowedStatement(trimmed) {
		return &GuardResult{
			Allowed:   false,
			Reason:    fmt.Sprintf("仅允许只读查询（%s）", strings.Join(allowedStatements, "/")),
			QueryType: queryType,
		}
	}

	// 关键词匹配前先剥离字符串字面量，避免误拦 WHERE name = 'DROP'
	stripped := stripStringLiterals(trimmed)

	for _, kw := range dangerousOperations {
		if g.keywordRes[kw].MatchString(stripped) {
			g.logger.Warn("拦截危险SQL操作",
				zap.String("keyword", kw),
				zap.String("query_type", queryType))
			return &GuardResult{
				Allowed:        false,
				Reason:         fmt.Sprintf("检测到危险操作: %s", kw),
				MatchedKeyword: kw,
				QueryType:      queryType,
			}
		}
	}

	for table, re := range g.tableRes {
		if re.MatchString(stripped) {
			g.logger.Warn("拦截敏感表访问",
				zap.String("table", table),
				zap.String("query_type", queryType))
			return &GuardResult{
				Allowed:        false,
				Reason:         fmt.Sprintf("禁止访问敏感表: %s", table),
				MatchedKeyword: table,
				QueryType:      queryType,
			}
		}
	}

	return &GuardResult{Allowed: true, QueryType: queryType}
}

// GetSecurityReport 生成SQL的安全摘要，供审计日志使用
func (g *QueryGuard) GetSecurityReport(sql string) map[string]any {
	result := g.Validate(sql)
	return map[string]any{
		"allowed":         result.Allowed,
		"query_type":      result.QueryType,
		"reason":          result.Reason,
		"matched_keyword": result.MatchedKeyword,
		"statement_count": g.statementCount(strings.TrimSpace(sql)),
		"query_length":    len(sql),
	}
}

// isAllowedStatement 判断语句是否以白名单关键词开头
func (g *QueryGuard) isAllowedStatement(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, stmt := range allowedStatements {
		if strings.HasPrefix(upper, stmt+" ") || strings.HasPrefix(upper, stmt+"\n") || upper == stmt {
			return true
		}
	}
	return false
}

// detectQueryType 识别SQL语句类型
func (g *QueryGuard) detectQueryType(sql string) string {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, t := range []string{
		"SELECT", "WITH", "EXPLAIN", "SHOW", "INSERT", "UPDATE",
		"DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	} {
		if strings.HasPrefix(upper, t) {
			return t
		}
	}
	return "UNKNOWN"
}

// statementCount 统计语句数，分号出现在字符串字面量内不计数
func (g *QueryGuard) statementCount(sql string) int {
	stripped := stripStringLiterals(sql)
	stripped = strings.TrimRight(strings.TrimSpace(stripped), ";")
	if strings.TrimSpace(stripped) == "" {
		return 0
	}
	return strings.Count(stripped, ";") + 1
}

// stripStringLiterals 将单引号/双引号字符串字面量替换为空串
// 处理SQL标准的''转义，保证后续关键词匹配不受字面量影响
func stripStringLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inSingle := false
	inDouble := false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inSingle:
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					i++ // 转义的单引号
					continue
				}
				inSingle = false
			}
		case inDouble:
			if ch == '"' {
				inDouble = false
			}
		case ch == '\'':
			inSingle = true
		case ch == '"':
			inDouble = true
		default:
			b.WriteByte(ch)
		}
	}

	return b.String()
}
