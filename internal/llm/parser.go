// SQL响应解析 - 清理模型输出并识别截断的SQL
// 模型偶尔会输出markdown围栏或半截语句，这里统一兜底

package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrIncompleteSQL 模型输出的SQL不完整，可触发一次重新生成
var ErrIncompleteSQL = errors.New("生成的SQL不完整")

var (
	fenceRe  = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	prefixRe = regexp.MustCompile(`(?i)^\s*(?:SQL\s*Query\s*:|SQL\s*:)\s*`)

	// 已知的截断形态：FROM/WHERE/AND/OR/JOIN/ORDER BY/GROUP BY结尾无操作数
	truncatedRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bFROM\s*;?\s*$`),
		regexp.MustCompile(`(?i)\bWHERE\s*;?\s*$`),
		regexp.MustCompile(`(?i)\b(?:AND|OR)\s*;?\s*$`),
		regexp.MustCompile(`(?i)\bJOIN\s*;?\s*$`),
		regexp.MustCompile(`(?i)\b(?:ORDER|GROUP)\s+BY\s*;?\s*$`),
		regexp.MustCompile(`(?i)[=<>]\s*;?\s*$`),
		regexp.MustCompile(`,\s*;?\s*$`),
	}
)

// ExtractSQL 从模型输出中提取SQL语句
// 依次处理：markdown围栏 -> SQL:前缀 -> 首尾空白 -> 补结尾分号
// 提取结果不完整时返回ErrIncompleteSQL
func ExtractSQL(raw string) (string, error) {
	sql := strings.TrimSpace(raw)
	if sql == "" {
		return "", fmt.Errorf("模型输出为空: %w", ErrIncompleteSQL)
	}

	// 优先取第一个代码围栏内的内容
	if m := fenceRe.FindStringSubmatch(sql); m != nil {
		sql = strings.TrimSpace(m[1])
	}

	sql = prefixRe.ReplaceAllString(sql, "")
	sql = strings.TrimSpace(sql)
	sql = strings.Trim(sql, "`")
	sql = strings.TrimSpace(sql)

	if err := checkComplete(sql); err != nil {
		return "", err
	}

	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}

	return sql, nil
}

// checkComplete 识别明显不完整的SQL
func checkComplete(sql string) error {
	if sql == "" {
		return fmt.Errorf("提取后SQL为空: %w", ErrIncompleteSQL)
	}

	// 少于3个词的查询基本不可执行
	if len(strings.Fields(sql)) < 3 {
		return fmt.Errorf("SQL过短（%q）: %w", sql, ErrIncompleteSQL)
	}

	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	for _, re := range truncatedRes {
		if re.MatchString(trimmed) {
			return fmt.Errorf("SQL疑似截断（%q）: %w", sql, ErrIncompleteSQL)
		}
	}

	// 括号不配对视为截断
	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		return fmt.Errorf("SQL括号不配对: %w", ErrIncompleteSQL)
	}

	return nil
}
