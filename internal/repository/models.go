// 数据模型定义
// 所有表共享BaseModel审计字段，软删除通过is_deleted标记实现

package repository

import (
	"time"
)

// BaseModel 基础模型，包含通用审计字段
type BaseModel struct {
	ID         int64     `json:"id" db:"id"`
	CreateBy   *int64    `json:"create_by,omitempty" db:"create_by"`
	CreateTime time.Time `json:"create_time" db:"create_time"`
	UpdateBy   *int64    `json:"update_by,omitempty" db:"update_by"`
	UpdateTime time.Time `json:"update_time" db:"update_time"`
	IsDeleted  bool      `json:"is_deleted" db:"is_deleted"`
}

// UserRole 用户角色
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// IsValid 校验角色取值
func (r UserRole) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// IsValid 校验用户状态取值
func (s UserStatus) IsValid() bool {
	return s == UserStatusActive || s == UserStatusSuspended
}

// User 用户模型
type User struct {
	BaseModel
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         UserRole   `json:"role" db:"role"`
	Status       UserStatus `json:"status" db:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// HasRole 判断用户是否具有指定角色，管理员拥有全部权限
func (u *User) HasRole(role UserRole) bool {
	return u.Role == RoleAdmin || u.Role == role
}

// MessageRole 对话消息角色
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// IsValid 校验消息角色取值
func (r MessageRole) IsValid() bool {
	return r == MessageRoleUser || r == MessageRoleAssistant
}

// ChatMessage 对话消息模型
// 按session_id分组构成一次会话，历史消息会拼入提示词
type ChatMessage struct {
	BaseModel
	SessionID     string      `json:"session_id" db:"session_id"`
	UserID        int64       `json:"user_id" db:"user_id"`
	Role          MessageRole `json:"role" db:"role"`
	Content       string      `json:"content" db:"content"`
	QueryRecordID *int64      `json:"query_record_id,omitempty" db:"query_record_id"`
}

// QueryStatus 查询状态
type QueryStatus string

const (
	QueryStatusPending QueryStatus = "pending"
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusBlocked QueryStatus = "blocked"
	QueryStatusFailed  QueryStatus = "failed"
)

// IsValid 校验查询状态取值
func (s QueryStatus) IsValid() bool {
	switch s {
	case QueryStatusPending, QueryStatusSuccess, QueryStatusBlocked, QueryStatusFailed:
		return true
	}
	return false
}

// QueryRecord 查询记录模型
// 记录每次自然语言转SQL的完整链路：问题、生成SQL、执行结果、耗时
type QueryRecord struct {
	BaseModel
	UserID         int64       `json:"user_id" db:"user_id"`
	SessionID      string      `json:"session_id" db:"session_id"`
	Question       string      `json:"question" db:"question"`
	GeneratedSQL   string      `json:"generated_sql" db:"generated_sql"`
	SQLHash        string      `json:"sql_hash" db:"sql_hash"`
	Status         QueryStatus `json:"status" db:"status"`
	ErrorMessage   *string     `json:"error_message,omitempty" db:"error_message"`
	ExecutionTime  *int32      `json:"execution_time,omitempty" db:"execution_time"` // 毫秒
	ResultRows     *int32      `json:"result_rows,omitempty" db:"result_rows"`
	ProcessingMode string      `json:"processing_mode" db:"processing_mode"`
	ModelUsed      string      `json:"model_used" db:"model_used"`
	ConnectionID   *int64      `json:"connection_id,omitempty" db:"connection_id"`
}

// IsSuccessful 判断查询是否成功执行
func (q *QueryRecord) IsSuccessful() bool {
	return q.Status == QueryStatusSuccess
}

// ConnectionStatus 数据库连接状态
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
	ConnectionStatusError    ConnectionStatus = "error"
)

// IsValid 校验连接状态取值
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusActive, ConnectionStatusInactive, ConnectionStatusError:
		return true
	}
	return false
}

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMySQL      DatabaseType = "mysql"
)

// IsValid 校验数据库类型取值
func (t DatabaseType) IsValid() bool {
	return t == DatabaseTypePostgreSQL || t == DatabaseTypeMySQL
}

// DatabaseConnection 目标数据库连接模型
// 密码经AES-GCM加密存储，明文只在建立连接时短暂存在
type DatabaseConnection struct {
	BaseModel
	UserID            int64            `json:"user_id" db:"user_id"`
	Name              string           `json:"name" db:"name"`
	Host              string           `json:"host" db:"host"`
	Port              int32            `json:"port" db:"port"`
	DatabaseName      string           `json:"database_name" db:"database_name"`
	Username          string           `json:"username" db:"username"`
	PasswordEncrypted string           `json:"-" db:"password_encrypted"`
	DBType            DatabaseType     `json:"db_type" db:"db_type"`
	Status            ConnectionStatus `json:"status" db:"status"`
	LastTested        *time.Time       `json:"last_tested,omitempty" db:"last_tested"`
}

// SchemaMetadata 表结构元数据模型
// 每行描述一个列，外键信息用于生成关系图
type SchemaMetadata struct {
	BaseModel
	ConnectionID     int64   `json:"connection_id" db:"connection_id"`
	SchemaName       string  `json:"schema_name" db:"schema_name"`
	TableName        string  `json:"table_name" db:"table_name"`
	ColumnName       string  `json:"column_name" db:"column_name"`
	DataType         string  `json:"data_type" db:"data_type"`
	IsNullable       bool    `json:"is_nullable" db:"is_nullable"`
	ColumnDefault    *string `json:"column_default,omitempty" db:"column_default"`
	IsPrimaryKey     bool    `json:"is_primary_key" db:"is_primary_key"`
	IsForeignKey     bool    `json:"is_foreign_key" db:"is_foreign_key"`
	ReferencedTable  *string `json:"referenced_table,omitempty" db:"referenced_table"`
	ReferencedColumn *string `json:"referenced_column,omitempty" db:"referenced_column"`
	OrdinalPosition  int32   `json:"ordinal_position" db:"ordinal_position"`
}
