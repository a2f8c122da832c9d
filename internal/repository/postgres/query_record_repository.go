package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sqlchat-go/internal/repository"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// queryRecordRepository 查询记录Repository的pgx实现
type queryRecordRepository struct {
	db     querier
	logger *zap.Logger
}

func newQueryRecordRepository(db querier, logger *zap.Logger) repository.QueryRecordRepository {
	return &queryRecordRepository{db: db, logger: logger}
}

const queryRecordColumns = `id, user_id, session_id, question, generated_sql, sql_hash,
	status, error_message, execution_time, result_rows, processing_mode, model_used,
	connection_id, create_by, create_time, update_by, update_time, is_deleted`

// Create 创建查询记录
func (r *queryRecordRepository) Create(ctx context.Context, record *repository.QueryRecord) error {
	const sqlQuery = `
		INSERT INTO query_records (user_id, session_id, question, generated_sql, sql_hash,
			status, error_message, execution_time, result_rows, processing_mode, model_used,
			connection_id, create_by, create_time, update_by, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, false)
		RETURNING id`

	if !record.Status.IsValid() {
		return fmt.Errorf("无效的查询状态 %s: %w", record.Status, repository.ErrInvalidInput)
	}

	now := time.Now().UTC()

	err := r.db.QueryRow(ctx, sqlQuery,
		record.UserID,
		record.SessionID,
		record.Question,
		record.GeneratedSQL,
		record.SQLHash,
		record.Status,
		record.ErrorMessage,
		record.ExecutionTime,
		record.ResultRows,
		record.ProcessingMode,
		record.ModelUsed,
		record.ConnectionID,
		record.CreateBy,
		now,
		record.UpdateBy,
		now,
	).Scan(&record.ID)

	if err != nil {
		r.logger.Error("创建查询记录失败",
			zap.Int64("user_id", record.UserID),
			zap.String("status", string(record.Status)),
			zap.Error(err))
		return fmt.Errorf("创建查询记录失败: %w", err)
	}

	record.CreateTime = now
	record.UpdateTime = now

	r.logger.Info("查询记录创建成功",
		zap.Int64("record_id", record.ID),
		zap.Int64("user_id", record.UserID),
		zap.String("status", string(record.Status)))

	return nil
}

// GetByID 根据ID获取查询记录
func (r *queryRecordRepository) GetByID(ctx context.Context, id int64) (*repository.QueryRecord, error) {
	sqlQuery := `SELECT ` + queryRecordColumns + `
		FROM query_records WHERE id = $1 AND is_deleted = false`

	record := &repository.QueryRecord{}
	err := r.db.QueryRow(ctx, sqlQuery, id).Scan(r.scanTargets(record)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("查询记录不存在: %w", repository.ErrNotFound)
		}
		r.logger.Error("获取查询记录失败", zap.Int64("record_id", id), zap.Error(err))
		return nil, fmt.Errorf("获取查询记录失败: %w", err)
	}

	return record, nil
}

// Update 更新查询记录（执行完成后回填状态和耗时）
func (r *queryRecordRepository) Update(ctx context.Context, record *repository.QueryRecord) error {
	const sqlQuery = `
		UPDATE query_records
		SET generated_sql = $2, sql_hash = $3, status = $4, error_message = $5,
			execution_time = $6, result_rows = $7, update_by = $8, update_time = $9
		WHERE id = $1 AND is_deleted = false`

	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx, sqlQuery,
		record.ID,
		record.GeneratedSQL,
		record.SQLHash,
		record.Status,
		record.ErrorMessage,
		record.ExecutionTime,
		record.ResultRows,
		record.UpdateBy,
		now,
	)
	if err != nil {
		r.logger.Error("更新查询记录失败", zap.Int64("record_id", record.ID), zap.Error(err))
		return fmt.Errorf("更新查询记录失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("查询记录不存在: %w", repository.ErrNotFound)
	}

	record.UpdateTime = now
	return nil
}

// ListByUser 分页返回用户的查询记录，按时间倒序
func (r *queryRecordRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*repository.QueryRecord, error) {
	sqlQuery := `SELECT ` + queryRecordColumns + `
		FROM query_records
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY create_time DESC
		LIMIT $2 OFFSET $3`

	return r.scanMany(ctx, sqlQuery, userID, limit, offset)
}

// ListBySession 返回会话内的查询记录，按时间正序
func (r *queryRecordRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*repository.QueryRecord, error) {
	sqlQuery := `SELECT ` + queryRecordColumns + `
		FROM query_records
		WHERE session_id = $1 AND is_deleted = false
		ORDER BY create_time ASC
		LIMIT $2`

	return r.scanMany(ctx, sqlQuery, sessionID, limit)
}

// ListRecentSuccessful 返回用户最近成功的查询
func (r *queryRecordRepository) ListRecentSuccessful(ctx context.Context, userID int64, limit int) ([]*repository.QueryRecord, error) {
	sqlQuery := `SELECT ` + queryRecordColumns + `
		FROM query_records
		WHERE user_id = $1 AND status = $2 AND is_deleted = false
		ORDER BY create_time DESC
		LIMIT $3`

	return r.scanMany(ctx, sqlQuery, userID, repository.QueryStatusSuccess, limit)
}

// CountByStatus 按状态统计用户查询数
func (r *queryRecordRepository) CountByStatus(ctx context.Context, userID int64, status repository.QueryStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM query_records
		 WHERE user_id = $1 AND status = $2 AND is_deleted = false`,
		userID, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计查询记录失败: %w", err)
	}
	return count, nil
}

// scanTargets 返回record各字段的扫描目标，保持与queryRecordColumns同序
func (r *queryRecordRepository) scanTargets(record *repository.QueryRecord) []any {
	return []any{
		&record.ID,
		&record.UserID,
		&record.SessionID,
		&record.Question,
		&record.GeneratedSQL,
		&record.SQLHash,
		&record.Status,
		&record.ErrorMessage,
		&record.ExecutionTime,
		&record.ResultRows,
		&record.ProcessingMode,
		&record.ModelUsed,
		&record.ConnectionID,
		&record.CreateBy,
		&record.CreateTime,
		&record.UpdateBy,
		&record.UpdateTime,
		&record.IsDeleted,
	}
}

// scanMany 执行多行查询并扫描记录列表
func (r *queryRecordRepository) scanMany(ctx context.Context, sqlQuery string, args ...any) ([]*repository.QueryRecord, error) {
	rows, err := r.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		r.logger.Error("查询记录列表失败", zap.Error(err))
		return nil, fmt.Errorf("查询记录列表失败: %w", err)
	}
	defer rows.Close()

	var records []*repository.QueryRecord
	for rows.Next() {
		record := &repository.QueryRecord{}
		if err := rows.Scan(r.scanTargets(record)...); err != nil {
			return nil, fmt.Errorf("扫描查询记录失败: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
