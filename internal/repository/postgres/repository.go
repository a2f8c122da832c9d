// PostgreSQL Repository实现
// 聚合所有子Repository，连接池和事务共用同一套实现

package postgres

import (
	"context"
	"errors"
	"fmt"

	"sqlchat-go/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// querier pgxpool.Pool和pgx.Tx的公共子集
// 子Repository基于该接口实现，同一份代码同时服务连接池和事务两种场景
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository PostgreSQL聚合Repository
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	userRepo        repository.UserRepository
	chatMessageRepo repository.ChatMessageRepository
	queryRecordRepo repository.QueryRecordRepository
	connectionRepo  repository.ConnectionRepository
	schemaRepo      repository.SchemaRepository
}

// NewRepository 创建PostgreSQL Repository实例
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) repository.Repository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Repository{
		pool:   pool,
		logger: logger,

		userRepo:        newUserRepository(pool, logger),
		chatMessageRepo: newChatMessageRepository(pool, logger),
		queryRecordRepo: newQueryRecordRepository(pool, logger),
		connectionRepo:  newConnectionRepository(pool, logger),
		schemaRepo:      newSchemaRepository(pool, logger),
	}
}

// UserRepo 获取用户Repository
func (r *Repository) UserRepo() repository.UserRepository {
	return r.userRepo
}

// ChatMessageRepo 获取对话消息Repository
func (r *Repository) ChatMessageRepo() repository.ChatMessageRepository {
	return r.chatMessageRepo
}

// QueryRecordRepo 获取查询记录Repository
func (r *Repository) QueryRecordRepo() repository.QueryRecordRepository {
	return r.queryRecordRepo
}

// ConnectionRepo 获取连接Repository
func (r *Repository) ConnectionRepo() repository.ConnectionRepository {
	return r.connectionRepo
}

// SchemaRepo 获取元数据Repository
func (r *Repository) SchemaRepo() repository.SchemaRepository {
	return r.schemaRepo
}

// BeginTx 开始事务
func (r *Repository) BeginTx(ctx context.Context) (repository.TxRepository, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("开始事务失败", zap.Error(err))
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}

	return &TxRepository{
		tx:     tx,
		logger: r.logger,

		userRepo:        newUserRepository(tx, r.logger),
		chatMessageRepo: newChatMessageRepository(tx, r.logger),
		queryRecordRepo: newQueryRecordRepository(tx, r.logger),
		connectionRepo:  newConnectionRepository(tx, r.logger),
		schemaRepo:      newSchemaRepository(tx, r.logger),
	}, nil
}

// HealthCheck 健康检查
func (r *Repository) HealthCheck(ctx context.Context) error {
	var result int
	if err := r.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		r.logger.Error("repository健康检查失败", zap.Error(err))
		return fmt.Errorf("repository健康检查失败: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("健康检查返回异常值: %d", result)
	}
	return nil
}

// Close 关闭底层连接池
func (r *Repository) Close() error {
	r.logger.Info("关闭PostgreSQL Repository")
	r.pool.Close()
	return nil
}

// TxRepository 事务Repository实现
type TxRepository struct {
	tx     pgx.Tx
	logger *zap.Logger

	userRepo        repository.UserRepository
	chatMessageRepo repository.ChatMessageRepository
	queryRecordRepo repository.QueryRecordRepository
	connectionRepo  repository.ConnectionRepository
	schemaRepo      repository.SchemaRepository
}

// UserRepo 获取用户Repository（事务版本）
func (r *TxRepository) UserRepo() repository.UserRepository {
	return r.userRepo
}

// ChatMessageRepo 获取对话消息Repository（事务版本）
func (r *TxRepository) ChatMessageRepo() repository.ChatMessageRepository {
	return r.chatMessageRepo
}

// QueryRecordRepo 获取查询记录Repository（事务版本）
func (r *TxRepository) QueryRecordRepo() repository.QueryRecordRepository {
	return r.queryRecordRepo
}

// ConnectionRepo 获取连接Repository（事务版本）
func (r *TxRepository) ConnectionRepo() repository.ConnectionRepository {
	return r.connectionRepo
}

// SchemaRepo 获取元数据Repository（事务版本）
func (r *TxRepository) SchemaRepo() repository.SchemaRepository {
	return r.schemaRepo
}

// Commit 提交事务
func (r *TxRepository) Commit(ctx context.Context) error {
	if err := r.tx.Commit(ctx); err != nil {
		r.logger.Error("事务提交失败", zap.Error(err))
		return fmt.Errorf("事务提交失败: %w", err)
	}
	return nil
}

// Rollback 回滚事务
func (r *TxRepository) Rollback(ctx context.Context) error {
	if err := r.tx.Rollback(ctx); err != nil {
		r.logger.Error("事务回滚失败", zap.Error(err))
		return fmt.Errorf("事务回滚失败: %w", err)
	}
	return nil
}

// isUniqueViolation 判断pg错误是否为唯一性冲突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
