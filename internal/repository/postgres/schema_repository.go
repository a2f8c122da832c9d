package postgres

import (
	"context"
	"fmt"
	"time"

	"sqlchat-go/internal/repository"

	"go.uber.org/zap"
)

// schemaRepository 表结构元数据Repository的pgx实现
type schemaRepository struct {
	db     querier
	logger *zap.Logger
}

func newSchemaRepository(db querier, logger *zap.Logger) repository.SchemaRepository {
	return &schemaRepository{db: db, logger: logger}
}

const schemaColumns = `id, connection_id, schema_name, table_name, column_name, data_type,
	is_nullable, column_default, is_primary_key, is_foreign_key, referenced_table,
	referenced_column, ordinal_position, create_by, create_time, update_by, update_time, is_deleted`

// BatchUpsert 批量写入连接的元数据
// 先软删除该连接的旧数据再逐行插入，调用方应在事务中使用
func (r *schemaRepository) BatchUpsert(ctx context.Context, metadata []*repository.SchemaMetadata) error {
	if len(metadata) == 0 {
		return nil
	}

	connectionID := metadata[0].ConnectionID
	if err := r.DeleteByConnection(ctx, connectionID); err != nil {
		return err
	}

	const sqlQuery = `
		INSERT INTO schema_metadata (connection_id, schema_name, table_name, column_name,
			data_type, is_nullable, column_default, is_primary_key, is_foreign_key,
			referenced_table, referenced_column, ordinal_position,
			create_by, create_time, update_by, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, false)
		RETURNING id`

	now := time.Now().UTC()

	for _, m := range metadata {
		if m.ConnectionID != connectionID {
			return fmt.Errorf("批量写入要求相同的connection_id: %w", repository.ErrInvalidInput)
		}

		err := r.db.QueryRow(ctx, sqlQuery,
			m.ConnectionID,
			m.SchemaName,
			m.TableName,
			m.ColumnName,
			m.DataType,
			m.IsNullable,
			m.ColumnDefault,
			m.IsPrimaryKey,
			m.IsForeignKey,
			m.ReferencedTable,
			m.ReferencedColumn,
			m.OrdinalPosition,
			m.CreateBy,
			now,
			m.UpdateBy,
			now,
		).Scan(&m.ID)
		if err != nil {
			r.logger.Error("写入表结构元数据失败",
				zap.Int64("connection_id", m.ConnectionID),
				zap.String("table", m.TableName),
				zap.Error(err))
			return fmt.Errorf("写入表结构元数据失败: %w", err)
		}

		m.CreateTime = now
		m.UpdateTime = now
	}

	r.logger.Info("表结构元数据写入成功",
		zap.Int64("connection_id", connectionID),
		zap.Int("columns", len(metadata)))

	return nil
}

// ListByConnection 返回连接的全部元数据，按表名和列序排列
func (r *schemaRepository) ListByConnection(ctx context.Context, connectionID int64) ([]*repository.SchemaMetadata, error) {
	sqlQuery := `SELECT ` + schemaColumns + `
		FROM schema_metadata
		WHERE connection_id = $1 AND is_deleted = false
		ORDER BY schema_name, table_name, ordinal_position`

	return r.scanMany(ctx, sqlQuery, connectionID)
}

// ListByTable 返回指定表的元数据
func (r *schemaRepository) ListByTable(ctx context.Context, connectionID int64, schemaName, tableName string) ([]*repository.SchemaMetadata, error) {
	sqlQuery := `SELECT ` + schemaColumns + `
		FROM schema_metadata
		WHERE connection_id = $1 AND schema_name = $2 AND table_name = $3 AND is_deleted = false
		ORDER BY ordinal_position`

	return r.scanMany(ctx, sqlQuery, connectionID, schemaName, tableName)
}

// ListTables 返回连接的表名列表
func (r *schemaRepository) ListTables(ctx context.Context, connectionID int64) ([]string, error) {
	const sqlQuery = `
		SELECT DISTINCT table_name
		FROM schema_metadata
		WHERE connection_id = $1 AND is_deleted = false
		ORDER BY table_name`

	rows, err := r.db.Query(ctx, sqlQuery, connectionID)
	if err != nil {
		return nil, fmt.Errorf("查询表名列表失败: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("扫描表名失败: %w", err)
		}
		tables = append(tables, table)
	}

	return tables, rows.Err()
}

// DeleteByConnection 软删除连接的全部元数据
func (r *schemaRepository) DeleteByConnection(ctx context.Context, connectionID int64) error {
	const sqlQuery = `
		UPDATE schema_metadata SET is_deleted = true, update_time = $2
		WHERE connection_id = $1 AND is_deleted = false`

	if _, err := r.db.Exec(ctx, sqlQuery, connectionID, time.Now().UTC()); err != nil {
		r.logger.Error("删除表结构元数据失败", zap.Int64("connection_id", connectionID), zap.Error(err))
		return fmt.Errorf("删除表结构元数据失败: %w", err)
	}

	return nil
}

// scanMany 执行多行查询并扫描元数据列表
func (r *schemaRepository) scanMany(ctx context.Context, sqlQuery string, args ...any) ([]*repository.SchemaMetadata, error) {
	rows, err := r.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		r.logger.Error("查询表结构元数据失败", zap.Error(err))
		return nil, fmt.Errorf("查询表结构元数据失败: %w", err)
	}
	defer rows.Close()

	var metadata []*repository.SchemaMetadata
	for rows.Next() {
		m := &repository.SchemaMetadata{}
		err := rows.Scan(
			&m.ID,
			&m.ConnectionID,
			&m.SchemaName,
			&m.TableName,
			&m.ColumnName,
			&m.DataType,
			&m.IsNullable,
			&m.ColumnDefault,
			&m.IsPrimaryKey,
			&m.IsForeignKey,
			&m.ReferencedTable,
			&m.ReferencedColumn,
			&m.OrdinalPosition,
			&m.CreateBy,
			&m.CreateTime,
			&m.UpdateBy,
			&m.UpdateTime,
			&m.IsDeleted,
		)
		if err != nil {
			return nil, fmt.Errorf("扫描表结构元数据失败: %w", err)
		}
		metadata = append(metadata, m)
	}

	return metadata, rows.Err()
}
