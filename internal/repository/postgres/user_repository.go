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

// userRepository 用户Repository的pgx实现
type userRepository struct {
	db     querier
	logger *zap.Logger
}

func newUserRepository(db querier, logger *zap.Logger) repository.UserRepository {
	return &userRepository{db: db, logger: logger}
}

const userColumns = `id, username, email, password_hash, role, status, last_login_at,
	create_by, create_time, update_by, update_time, is_deleted`

// Create 创建用户
func (r *userRepository) Create(ctx context.Context, user *repository.User) error {
	const sqlQuery = `
		INSERT INTO users (username, email, password_hash, role, status,
			create_by, create_time, update_by, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		RETURNING id`

	now := time.Now().UTC()

	err := r.db.QueryRow(ctx, sqlQuery,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.CreateBy,
		now,
		user.UpdateBy,
		now,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("用户名或邮箱已存在", zap.String("username", user.Username))
			return fmt.Errorf("用户已存在: %w", repository.ErrDuplicateEntry)
		}
		r.logger.Error("创建用户失败", zap.String("username", user.Username), zap.Error(err))
		return fmt.Errorf("创建用户失败: %w", err)
	}

	user.CreateTime = now
	user.UpdateTime = now

	r.logger.Info("用户创建成功",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return nil
}

// GetByID 根据ID获取用户
func (r *userRepository) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	sqlQuery := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_deleted = false`
	return r.scanOne(ctx, sqlQuery, id)
}

// GetByUsername 根据用户名获取用户
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	sqlQuery := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND is_deleted = false`
	return r.scanOne(ctx, sqlQuery, username)
}

// GetByEmail 根据邮箱获取用户
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	sqlQuery := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND is_deleted = false`
	return r.scanOne(ctx, sqlQuery, email)
}

// Update 更新用户资料
func (r *userRepository) Update(ctx context.Context, user *repository.User) error {
	const sqlQuery = `
		UPDATE users
		SET email = $2, password_hash = $3, role = $4, status = $5,
			update_by = $6, update_time = $7
		WHERE id = $1 AND is_deleted = false`

	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx, sqlQuery,
		user.ID, user.Email, user.PasswordHash, user.Role, user.Status,
		user.UpdateBy, now,
	)
	if err != nil {
		r.logger.Error("更新用户失败", zap.Int64("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("更新用户失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("用户不存在: %w", repository.ErrNotFound)
	}

	user.UpdateTime = now
	return nil
}

// UpdateLastLogin 记录最近登录时间
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64, loginTime time.Time) error {
	const sqlQuery = `
		UPDATE users SET last_login_at = $2, update_time = $2
		WHERE id = $1 AND is_deleted = false`

	tag, err := r.db.Exec(ctx, sqlQuery, id, loginTime.UTC())
	if err != nil {
		return fmt.Errorf("更新登录时间失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("用户不存在: %w", repository.ErrNotFound)
	}
	return nil
}

// Delete 软删除用户
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	const sqlQuery = `
		UPDATE users SET is_deleted = true, update_time = $2
		WHERE id = $1 AND is_deleted = false`

	tag, err := r.db.Exec(ctx, sqlQuery, id, time.Now().UTC())
	if err != nil {
		r.logger.Error("删除用户失败", zap.Int64("user_id", id), zap.Error(err))
		return fmt.Errorf("删除用户失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("用户不存在: %w", repository.ErrNotFound)
	}

	r.logger.Info("用户删除成功", zap.Int64("user_id", id))
	return nil
}

// ExistsByUsername 判断用户名是否已注册
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND is_deleted = false)`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("查询用户名是否存在失败: %w", err)
	}
	return exists, nil
}

// ExistsByEmail 判断邮箱是否已注册
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND is_deleted = false)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("查询邮箱是否存在失败: %w", err)
	}
	return exists, nil
}

// scanOne 执行单行查询并扫描用户
func (r *userRepository) scanOne(ctx context.Context, sqlQuery string, arg any) (*repository.User, error) {
	user := &repository.User{}

	err := r.db.QueryRow(ctx, sqlQuery, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.LastLoginAt,
		&user.CreateBy,
		&user.CreateTime,
		&user.UpdateBy,
		&user.UpdateTime,
		&user.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("用户不存在: %w", repository.ErrNotFound)
		}
		r.logger.Error("查询用户失败", zap.Error(err))
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	return user, nil
}
