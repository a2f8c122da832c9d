// Repository接口定义
// 聚合接口 + 各领域子接口，postgres包提供pgx实现

package repository

import (
	"context"
	"time"
)

// Repository 数据访问聚合接口
type Repository interface {
	UserRepo() UserRepository
	ChatMessageRepo() ChatMessageRepository
	QueryRecordRepo() QueryRecordRepository
	ConnectionRepo() ConnectionRepository
	SchemaRepo() SchemaRepository

	// BeginTx 开始事务，返回基于事务的Repository
	BeginTx(ctx context.Context) (TxRepository, error)

	// HealthCheck 检查底层存储可用性
	HealthCheck(ctx context.Context) error

	// Close 释放底层连接资源
	Close() error
}

// TxRepository 事务Repository接口
// 所有子Repository操作在同一事务中执行
type TxRepository interface {
	UserRepo() UserRepository
	ChatMessageRepo() ChatMessageRepository
	QueryRecordRepo() QueryRecordRepository
	ConnectionRepo() ConnectionRepository
	SchemaRepo() SchemaRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UserRepository 用户数据访问接口
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdateLastLogin(ctx context.Context, id int64, loginTime time.Time) error
	Delete(ctx context.Context, id int64) error

	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// ChatMessageRepository 对话消息数据访问接口
type ChatMessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error

	// ListBySession 按时间正序返回会话内消息
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error)

	// ListRecentBySession 返回会话内最近的N条消息，时间正序
	ListRecentBySession(ctx context.Context, sessionID string, turns int) ([]*ChatMessage, error)

	// ListSessionsByUser 返回用户的会话ID列表，按最近活跃排序
	ListSessionsByUser(ctx context.Context, userID int64, limit, offset int) ([]string, error)

	DeleteBySession(ctx context.Context, sessionID string) error
}

// QueryRecordRepository 查询记录数据访问接口
type QueryRecordRepository interface {
	Create(ctx context.Context, record *QueryRecord) error
	GetByID(ctx context.Context, id int64) (*QueryRecord, error)
	Update(ctx context.Context, record *QueryRecord) error

	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*QueryRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*QueryRecord, error)

	// ListRecentSuccessful 返回用户最近成功的查询，用于提示词few-shot示例
	ListRecentSuccessful(ctx context.Context, userID int64, limit int) ([]*QueryRecord, error)

	// CountByStatus 按状态统计用户查询数
	CountByStatus(ctx context.Context, userID int64, status QueryStatus) (int64, error)
}

// ConnectionRepository 数据库连接配置访问接口
type ConnectionRepository interface {
	Create(ctx context.Context, conn *DatabaseConnection) error
	GetByID(ctx context.Context, id int64) (*DatabaseConnection, error)
	Update(ctx context.Context, conn *DatabaseConnection) error
	Delete(ctx context.Context, id int64) error

	ListByUser(ctx context.Context, userID int64) ([]*DatabaseConnection, error)
	UpdateStatus(ctx context.Context, id int64, status ConnectionStatus, testedAt time.Time) error
}

// SchemaRepository 表结构元数据访问接口
type SchemaRepository interface {
	// BatchUpsert 批量写入连接的元数据，替换同表旧数据
	BatchUpsert(ctx context.Context, metadata []*SchemaMetadata) error

	ListByConnection(ctx context.Context, connectionID int64) ([]*SchemaMetadata, error)
	ListByTable(ctx context.Context, connectionID int64, schemaName, tableName string) ([]*SchemaMetadata, error)
	ListTables(ctx context.Context, connectionID int64) ([]string, error)
	DeleteByConnection(ctx context.Context, connectionID int64) error
}

// PaginationParams 分页参数
type PaginationParams struct {
	Limit  int `json:"limit" form:"limit"`
	Offset int `json:"offset" form:"offset"`
}

// Normalize 纠正越界的分页参数
func (p *PaginationParams) Normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
