package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// ExecutionRecorder 上报SQL执行指标
type ExecutionRecorder interface {
	RecordSQLExecution(status, queryType string, duration time.Duration)
}

// SQLExecutor 只读SQL执行器
// 在用户配置的目标数据库上执行查询，带超时、行数和结果集大小三重限制
type SQLExecutor struct {
	connectionManager *ConnectionManager
	recorder          ExecutionRecorder
	logger            *zap.Logger

	queryTimeout time.Duration
	maxRows      int32
	maxResultMB  int32
}

// SQLExecutorConfig SQL执行器配置
type SQLExecutorConfig struct {
	QueryTimeout time.Duration `json:"query_timeout"` // 默认30秒
	MaxRows      int32         `json:"max_rows"`      // 默认1000行
	MaxResultMB  int32         `json:"max_result_mb"` // 默认10MB
}

// QueryResult SQL查询结果
type QueryResult struct {
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int32            `json:"row_count"`
	ExecutionTime int32            `json:"execution_time"` // 毫秒
	QueryType     string           `json:"query_type"`
	Status        string           `json:"status"`
	Error         string           `json:"error,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// NewSQLExecutor 使用默认限制创建执行器，recorder可为nil
func NewSQLExecutor(connectionManager *ConnectionManager, recorder ExecutionRecorder, logger *zap.Logger) *SQLExecutor {
	return NewSQLExecutorWithConfig(connectionManager, recorder, nil, logger)
}

// NewSQLExecutorWithConfig 使用自定义限制创建执行器
func NewSQLExecutorWithConfig(connectionManager *ConnectionManager, recorder ExecutionRecorder, config *SQLExecutorConfig, logger *zap.Logger) *SQLExecutor {
	if config == nil {
		config = &SQLExecutorConfig{}
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxRows <= 0 {
		config.MaxRows = 1000
	}
	if config.MaxResultMB <= 0 {
		config.MaxResultMB = 10
	}

	return &SQLExecutor{
		connectionManager: connectionManager,
		recorder:          recorder,
		logger:            logger,
		queryTimeout:      config.QueryTimeout,
		maxRows:           config.MaxRows,
		maxResultMB:       config.MaxResultMB,
	}
}

// ExecuteQuery 在指定连接上执行查询
// 执行失败时返回的QueryResult仍然携带错误详情和耗时，供上层生成解释
func (e *SQLExecutor) ExecuteQuery(ctx context.Context, sql string, connection *repository.DatabaseConnection) (*QueryResult, error) {
	start := time.Now()

	e.logger.Info("开始执行SQL查询",
		zap.String("sql", sql),
		zap.Int64("connection_id", connection.ID),
		zap.String("database", connection.DatabaseName))

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	pool, err := e.connectionManager.GetConnectionPool(queryCtx, connection.ID)
	if err != nil {
		result := &QueryResult{
			Status:        string(repository.QueryStatusFailed),
			QueryType:     detectQueryType(sql),
			Error:         fmt.Sprintf("数据库连接失败: %v", err),
			ExecutionTime: int32(time.Since(start).Milliseconds()),
		}
		e.record(result, start)
		return result, err
	}

	result, err := e.runQuery(queryCtx, sql, pool)
	result.ExecutionTime = int32(time.Since(start).Milliseconds())
	e.record(result, start)

	if err != nil {
		e.logger.Error("SQL查询执行失败",
			zap.Error(err),
			zap.String("sql", sql),
			zap.Int64("connection_id", connection.ID),
			zap.Int32("execution_time_ms", result.ExecutionTime))
		return result, err
	}

	e.logger.Info("SQL查询执行成功",
		zap.Int64("connection_id", connection.ID),
		zap.Int32("row_count", result.RowCount),
		zap.Int32("execution_time_ms", result.ExecutionTime))

	return result, nil
}

// record 上报一次执行的状态、类型和耗时
func (e *SQLExecutor) record(result *QueryResult, start time.Time) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordSQLExecution(result.Status, result.QueryType, time.Since(start))
}

// runQuery 在给定池上执行并收集结果
func (e *SQLExecutor) runQuery(ctx context.Context, sql string, pool *pgxpool.Pool) (*QueryResult, error) {
	result := &QueryResult{
		Columns:   []string{},
		Rows:      []map[string]any{},
		QueryType: detectQueryType(sql),
		Status:    string(repository.QueryStatusSuccess),
	}

	rows, err := pool.Query(ctx, sql)
	if err != nil {
		result.Status = string(repository.QueryStatusFailed)
		result.Error = formatQueryError(err)
		return result, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = string(field.Name)
	}
	result.Columns = columns

	var rowCount int32
	var totalBytes int64
	maxBytes := int64(e.maxResultMB) * 1024 * 1024

	for rows.Next() {
		if rowCount >= e.maxRows {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("查询结果超过最大行数限制(%d行)，已截断", e.maxRows))
			break
		}

		values, err := rows.Values()
		if err != nil {
			result.Status = string(repository.QueryStatusFailed)
			result.Error = fmt.Sprintf("读取查询结果失败: %v", err)
			return result, err
		}

		rowData := make(map[string]any, len(columns))
		for i, value := range values {
			rowData[columns[i]] = convertValue(value)
		}

		encoded, err := json.Marshal(rowData)
		if err != nil {
			result.Status = string(repository.QueryStatusFailed)
			result.Error = fmt.Sprintf("结果序列化失败: %v", err)
			return result, err
		}

		if totalBytes+int64(len(encoded)) > maxBytes {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("查询结果超过最大大小限制(%dMB)，已截断", e.maxResultMB))
			break
		}

		result.Rows = append(result.Rows, rowData)
		rowCount++
		totalBytes += int64(len(encoded))
	}

	if err := rows.Err(); err != nil {
		result.Status = string(repository.QueryStatusFailed)
		result.Error = fmt.Sprintf("读取查询结果时发生错误: %v", err)
		return result, err
	}

	result.RowCount = rowCount
	return result, nil
}

// TestConnection 测试目标数据库连通性
func (e *SQLExecutor) TestConnection(ctx context.Context, connection *repository.DatabaseConnection) error {
	if err := e.connectionManager.TestConnection(ctx, connection); err != nil {
		return fmt.Errorf("连接测试失败: %w", err)
	}
	return nil
}

// RowsAsJSON 将结果行序列化为紧凑JSON，超出maxChars时截断并注明
// 用于拼装答案生成提示词，避免超长结果撑爆上下文窗口
func (r *QueryResult) RowsAsJSON(maxChars int) string {
	if len(r.Rows) == 0 {
		return "[]"
	}

	encoded, err := json.Marshal(r.Rows)
	if err != nil {
		return "[]"
	}

	text := string(encoded)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars] + fmt.Sprintf("... (truncated, %d rows total)", r.RowCount)
	}
	return text
}

// convertValue 将数据库值转换为JSON友好形式
func convertValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.Format(time.RFC3339)
	case []byte:
		return "base64:" + base64.StdEncoding.EncodeToString(v)
	case json.Number:
		return v.String()
	default:
		return value
	}
}

// formatQueryError 提取PostgreSQL错误码和消息
func formatQueryError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Sprintf("数据库错误 [%s]: %s", pgErr.Code, pgErr.Message)
	}
	return fmt.Sprintf("查询执行失败: %v", err)
}

// detectQueryType 识别查询语句类型
func detectQueryType(sql string) string {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, prefix := range []string{"SELECT", "WITH", "EXPLAIN", "SHOW"} {
		if strings.HasPrefix(upper, prefix) {
			return prefix
		}
	}
	return "UNKNOWN"
}
