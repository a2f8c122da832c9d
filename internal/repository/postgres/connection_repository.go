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

// connectionRepository 数据库连接Repository的pgx实现
type connectionRepository struct {
	db     querier
	logger *zap.Logger
}

func newConnectionRepository(db querier, logger *zap.Logger) repository.ConnectionRepository {
	return &connectionRepository{db: db, logger: logger}
}

const connectionColumns = `id, user_id, name, host, port, database_name, username,
	password_encrypted, db_type, status, last_tested,
	create_by, create_time, update_by, update_time, is_deleted`

// Create 创建连接配置
func (r *connectionRepository) Create(ctx context.Context, conn *repository.DatabaseConnection) error {
	const sqlQuery = `
		INSERT INTO database_connections (user_id, name, host, port, database_name,
			username, password_encrypted, db_type, status,
			create_by, create_time, update_by, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, false)
		RETURNING id`

	if !conn.DBType.IsValid() {
		return fmt.Errorf("无效的数据库类型 %s: %w", conn.DBType, repository.ErrInvalidInput)
	}

	now := time.Now().UTC()

	err := r.db.QueryRow(ctx, sqlQuery,
		conn.UserID,
		conn.Name,
		conn.Host,
		conn.Port,
		conn.DatabaseName,
		conn.Username,
		conn.PasswordEncrypted,
		conn.DBType,
		conn.Status,
		conn.CreateBy,
		now,
		conn.UpdateBy,
		now,
	).Scan(&conn.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("连接名称已存在: %w", repository.ErrDuplicateEntry)
		}
		r.logger.Error("创建连接配置失败",
			zap.Int64("user_id", conn.UserID),
			zap.String("name", conn.Name),
			zap.Error(err))
		return fmt.Errorf("创建连接配置失败: %w", err)
	}

	conn.CreateTime = now
	conn.UpdateTime = now

	r.logger.Info("连接配置创建成功",
		zap.Int64("connection_id", conn.ID),
		zap.String("name", conn.Name))

	return nil
}

// GetByID 根据ID获取连接配置
func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*repository.DatabaseConnection, error) {
	sqlQuery := `SELECT ` + connectionColumns + `
		FROM database_connections WHERE id = $1 AND is_deleted = false`

	conn := &repository.DatabaseConnection{}
	err := r.db.QueryRow(ctx, sqlQuery, id).Scan(r.scanTargets(conn)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
		}
		r.logger.Error("获取连接配置失败", zap.Int64("connection_id", id), zap.Error(err))
		return nil, fmt.Errorf("获取连接配置失败: %w", err)
	}

	return conn, nil
}

// Update 更新连接配置
func (r *connectionRepository) Update(ctx context.Context, conn *repository.DatabaseConnection) error {
	const sqlQuery = `
		UPDATE database_connections
		SET name = $2, host = $3, port = $4, database_name = $5, username = $6,
			password_encrypted = $7, db_type = $8, status = $9,
			update_by = $10, update_time = $11
		WHERE id = $1 AND is_deleted = false`

	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx, sqlQuery,
		conn.ID, conn.Name, conn.Host, conn.Port, conn.DatabaseName,
		conn.Username, conn.PasswordEncrypted, conn.DBType, conn.Status,
		conn.UpdateBy, now,
	)
	if err != nil {
		r.logger.Error("更新连接配置失败", zap.Int64("connection_id", conn.ID), zap.Error(err))
		return fmt.Errorf("更新连接配置失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	conn.UpdateTime = now
	return nil
}

// Delete 软删除连接配置
func (r *connectionRepository) Delete(ctx context.Context, id int64) error {
	const sqlQuery = `
		UPDATE database_connections SET is_deleted = true, update_time = $2
		WHERE id = $1 AND is_deleted = false`

	tag, err := r.db.Exec(ctx, sqlQuery, id, time.Now().UTC())
	if err != nil {
		r.logger.Error("删除连接配置失败", zap.Int64("connection_id", id), zap.Error(err))
		return fmt.Errorf("删除连接配置失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	r.logger.Info("连接配置删除成功", zap.Int64("connection_id", id))
	return nil
}

// ListByUser 返回用户的全部连接配置
func (r *connectionRepository) ListByUser(ctx context.Context, userID int64) ([]*repository.DatabaseConnection, error) {
	sqlQuery := `SELECT ` + connectionColumns + `
		FROM database_connections
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY create_time DESC`

	rows, err := r.db.Query(ctx, sqlQuery, userID)
	if err != nil {
		r.logger.Error("查询用户连接列表失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("查询用户连接列表失败: %w", err)
	}
	defer rows.Close()

	var conns []*repository.DatabaseConnection
	for rows.Next() {
		conn := &repository.DatabaseConnection{}
		if err := rows.Scan(r.scanTargets(conn)...); err != nil {
			return nil, fmt.Errorf("扫描连接配置失败: %w", err)
		}
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

// UpdateStatus 更新连接测试状态
func (r *connectionRepository) UpdateStatus(ctx context.Context, id int64, status repository.ConnectionStatus, testedAt time.Time) error {
	const sqlQuery = `
		UPDATE database_connections
		SET status = $2, last_tested = $3, update_time = $3
		WHERE id = $1 AND is_deleted = false`

	if !status.IsValid() {
		return fmt.Errorf("无效的连接状态 %s: %w", status, repository.ErrInvalidInput)
	}

	tag, err := r.db.Exec(ctx, sqlQuery, id, status, testedAt.UTC())
	if err != nil {
		return fmt.Errorf("更新连接状态失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	return nil
}

// scanTargets 返回conn各字段的扫描目标，保持与connectionColumns同序
func (r *connectionRepository) scanTargets(conn *repository.DatabaseConnection) []any {
	return []any{
		&conn.ID,
		&conn.UserID,
		&conn.Name,
		&conn.Host,
		&conn.Port,
		&conn.DatabaseName,
		&conn.Username,
		&conn.PasswordEncrypted,
		&conn.DBType,
		&conn.Status,
		&conn.LastTested,
		&conn.CreateBy,
		&conn.CreateTime,
		&conn.UpdateBy,
		&conn.UpdateTime,
		&conn.IsDeleted,
	}
}
