// Schema探测器
// 读取目标数据库information_schema，提取表、列和主外键约束，
// 结果落库供缓存复用，并可渲染为提示词用的CREATE TABLE文本
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// SchemaIntrospector 数据库Schema探测器
type SchemaIntrospector struct {
	connectionManager *ConnectionManager
	schemaRepo        repository.SchemaRepository
	logger            *zap.Logger

	introspectTimeout time.Duration
	maxTables         int
}

// SchemaIntrospectorConfig Schema探测器配置
type SchemaIntrospectorConfig struct {
	IntrospectTimeout time.Duration `json:"introspect_timeout"` // 默认60秒
	MaxTables         int           `json:"max_tables"`         // 默认100
}

// NewSchemaIntrospector 使用默认配置创建探测器
func NewSchemaIntrospector(
	connectionManager *ConnectionManager,
	schemaRepo repository.SchemaRepository,
	logger *zap.Logger,
) *SchemaIntrospector {
	return NewSchemaIntrospectorWithConfig(connectionManager, schemaRepo, nil, logger)
}

// NewSchemaIntrospectorWithConfig 使用自定义配置创建探测器
func NewSchemaIntrospectorWithConfig(
	connectionManager *ConnectionManager,
	schemaRepo repository.SchemaRepository,
	config *SchemaIntrospectorConfig,
	logger *zap.Logger,
) *SchemaIntrospector {
	if config == nil {
		config = &SchemaIntrospectorConfig{}
	}
	if config.IntrospectTimeout <= 0 {
		config.IntrospectTimeout = 60 * time.Second
	}
	if config.MaxTables <= 0 {
		config.MaxTables = 100
	}

	return &SchemaIntrospector{
		connectionManager: connectionManager,
		schemaRepo:        schemaRepo,
		logger:            logger,
		introspectTimeout: config.IntrospectTimeout,
		maxTables:         config.MaxTables,
	}
}

// columnQuery 读取public schema的列定义
// 表数量由maxTables限制，按表名和列序号排序保证输出稳定
const columnQuery = `
SELECT c.table_name, c.column_name, c.data_type,
       c.is_nullable = 'YES' AS is_nullable,
       c.column_default, c.ordinal_position
FROM information_schema.columns c
JOIN (
    SELECT table_name FROM information_schema.tables
    WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
    ORDER BY table_name LIMIT $1
) t ON t.table_name = c.table_name
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

// keyColumnQuery 读取主键和外键约束涉及的列
const keyColumnQuery = `
SELECT tc.constraint_type, kcu.table_name, kcu.column_name,
       ccu.table_name AS ref_table, ccu.column_name AS ref_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
LEFT JOIN information_schema.constraint_column_usage ccu
    ON tc.constraint_name = ccu.constraint_name
    AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = 'public'
  AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')`

// IntrospectConnection 探测目标数据库并返回元数据行集合
func (si *SchemaIntrospector) IntrospectConnection(ctx context.Context, connectionID int64) ([]*repository.SchemaMetadata, error) {
	introspectCtx, cancel := context.WithTimeout(ctx, si.introspectTimeout)
	defer cancel()

	pool, err := si.connectionManager.GetConnectionPool(introspectCtx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接失败: %w", err)
	}

	metadata, err := si.collectColumns(introspectCtx, pool, connectionID)
	if err != nil {
		return nil, err
	}
	if err := si.applyKeyConstraints(introspectCtx, pool, metadata); err != nil {
		return nil, err
	}

	si.logger.Info("Schema探测完成",
		zap.Int64("connection_id", connectionID),
		zap.Int("column_count", len(metadata)))

	return metadata, nil
}

// RefreshMetadata 重新探测并替换落库的元数据
func (si *SchemaIntrospector) RefreshMetadata(ctx context.Context, connectionID int64) ([]*repository.SchemaMetadata, error) {
	metadata, err := si.IntrospectConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	if err := si.schemaRepo.BatchUpsert(ctx, metadata); err != nil {
		return nil, fmt.Errorf("保存Schema元数据失败: %w", err)
	}

	si.logger.Info("Schema元数据已刷新", zap.Int64("connection_id", connectionID))
	return metadata, nil
}

func (si *SchemaIntrospector) collectColumns(ctx context.Context, pool *pgxpool.Pool, connectionID int64) ([]*repository.SchemaMetadata, error) {
	rows, err := pool.Query(ctx, columnQuery, si.maxTables)
	if err != nil {
		return nil, fmt.Errorf("查询列信息失败: %w", err)
	}
	defer rows.Close()

	var metadata []*repository.SchemaMetadata
	for rows.Next() {
		m := &repository.SchemaMetadata{ConnectionID: connectionID, SchemaName: "public"}
		var columnDefault *string
		if err := rows.Scan(&m.TableName, &m.ColumnName, &m.DataType,
			&m.IsNullable, &columnDefault, &m.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("读取列信息失败: %w", err)
		}
		m.ColumnDefault = columnDefault
		metadata = append(metadata, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历列信息失败: %w", err)
	}

	return metadata, nil
}

func (si *SchemaIntrospector) applyKeyConstraints(ctx context.Context, pool *pgxpool.Pool, metadata []*repository.SchemaMetadata) error {
	rows, err := pool.Query(ctx, keyColumnQuery)
	if err != nil {
		return fmt.Errorf("查询约束信息失败: %w", err)
	}
	defer rows.Close()

	index := make(map[string]*repository.SchemaMetadata, len(metadata))
	for _, m := range metadata {
		index[m.TableName+"."+m.ColumnName] = m
	}

	for rows.Next() {
		var constraintType, tableName, columnName string
		var refTable, refColumn *string
		if err := rows.Scan(&constraintType, &tableName, &columnName, &refTable, &refColumn); err != nil {
			return fmt.Errorf("读取约束信息失败: %w", err)
		}

		m, ok := index[tableName+"."+columnName]
		if !ok {
			continue
		}
		switch constraintType {
		case "PRIMARY KEY":
			m.IsPrimaryKey = true
		case "FOREIGN KEY":
			m.IsForeignKey = true
			m.ReferencedTable = refTable
			m.ReferencedColumn = refColumn
		}
	}
	return rows.Err()
}

// RenderSchemaDDL 将元数据渲染为CREATE TABLE文本
// 这是SQL生成提示词里<SCHEMA>块的内容，列按ordinal_position排列
func RenderSchemaDDL(metadata []*repository.SchemaMetadata) string {
	if len(metadata) == 0 {
		return ""
	}

	tables := make(map[string][]*repository.SchemaMetadata)
	var names []string
	for _, m := range metadata {
		if _, ok := tables[m.TableName]; !ok {
			names = append(names, m.TableName)
		}
		tables[m.TableName] = append(tables[m.TableName], m)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, tableName := range names {
		if i > 0 {
			b.WriteString("\n\n")
		}
		columns := tables[tableName]
		sort.Slice(columns, func(a, c int) bool {
			return columns[a].OrdinalPosition < columns[c].OrdinalPosition
		})

		b.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", tableName))
		for j, col := range columns {
			b.WriteString(fmt.Sprintf("    %s %s", col.ColumnName, strings.ToUpper(col.DataType)))
			if col.IsPrimaryKey {
				b.WriteString(" PRIMARY KEY")
			} else if !col.IsNullable {
				b.WriteString(" NOT NULL")
			}
			if col.IsForeignKey && col.ReferencedTable != nil && col.ReferencedColumn != nil {
				b.WriteString(fmt.Sprintf(" REFERENCES %s(%s)", *col.ReferencedTable, *col.ReferencedColumn))
			}
			if j < len(columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(");")
	}

	return b.String()
}

// TableSummary 单表的一行摘要，用于连接详情接口
func TableSummary(tableName string, metadata []*repository.SchemaMetadata) string {
	var columns []string
	for _, m := range metadata {
		if m.TableName != tableName {
			continue
		}
		entry := m.ColumnName
		if m.IsPrimaryKey {
			entry += "(PK)"
		} else if m.IsForeignKey {
			entry += "(FK)"
		}
		columns = append(columns, entry)
	}
	return fmt.Sprintf("%s: %s", tableName, strings.Join(columns, ", "))
}
