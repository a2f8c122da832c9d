package postgres

import (
	"context"
	"fmt"
	"time"

	"sqlchat-go/internal/repository"

	"go.uber.org/zap"
)

// chatMessageRepository 对话消息Repository的pgx实现
type chatMessageRepository struct {
	db     querier
	logger *zap.Logger
}

func newChatMessageRepository(db querier, logger *zap.Logger) repository.ChatMessageRepository {
	return &chatMessageRepository{db: db, logger: logger}
}

const chatMessageColumns = `id, session_id, user_id, role, content, query_record_id,
	create_by, create_time, update_by, update_time, is_deleted`

// Create 写入一条对话消息
func (r *chatMessageRepository) Create(ctx context.Context, message *repository.ChatMessage) error {
	const sqlQuery = `
		INSERT INTO chat_messages (session_id, user_id, role, content, query_record_id,
			create_by, create_time, update_by, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		RETURNING id`

	if !message.Role.IsValid() {
		return fmt.Errorf("无效的消息角色 %s: %w", message.Role, repository.ErrInvalidInput)
	}

	now := time.Now().UTC()

	err := r.db.QueryRow(ctx, sqlQuery,
		message.SessionID,
		message.UserID,
		message.Role,
		message.Content,
		message.QueryRecordID,
		message.CreateBy,
		now,
		message.UpdateBy,
		now,
	).Scan(&message.ID)

	if err != nil {
		r.logger.Error("写入对话消息失败",
			zap.String("session_id", message.SessionID),
			zap.Error(err))
		return fmt.Errorf("写入对话消息失败: %w", err)
	}

	message.CreateTime = now
	message.UpdateTime = now

	return nil
}

// ListBySession 按时间正序返回会话内消息
func (r *chatMessageRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*repository.ChatMessage, error) {
	sqlQuery := `SELECT ` + chatMessageColumns + `
		FROM chat_messages
		WHERE session_id = $1 AND is_deleted = false
		ORDER BY create_time ASC, id ASC
		LIMIT $2`

	return r.scanMany(ctx, sqlQuery, sessionID, limit)
}

// ListRecentBySession 返回会话内最近的N条消息，结果按时间正序
func (r *chatMessageRepository) ListRecentBySession(ctx context.Context, sessionID string, turns int) ([]*repository.ChatMessage, error) {
	// 先倒序取最近N条，再正序返回给提示词拼接
	sqlQuery := `SELECT ` + chatMessageColumns + ` FROM (
			SELECT ` + chatMessageColumns + `
			FROM chat_messages
			WHERE session_id = $1 AND is_deleted = false
			ORDER BY create_time DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY create_time ASC, id ASC`

	return r.scanMany(ctx, sqlQuery, sessionID, turns)
}

// ListSessionsByUser 返回用户的会话ID列表，按最近活跃排序
func (r *chatMessageRepository) ListSessionsByUser(ctx context.Context, userID int64, limit, offset int) ([]string, error) {
	const sqlQuery = `
		SELECT session_id
		FROM chat_messages
		WHERE user_id = $1 AND is_deleted = false
		GROUP BY session_id
		ORDER BY MAX(create_time) DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, sqlQuery, userID, limit, offset)
	if err != nil {
		r.logger.Error("查询用户会话列表失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("查询用户会话列表失败: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("扫描会话ID失败: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	return sessions, rows.Err()
}

// DeleteBySession 软删除会话内全部消息
func (r *chatMessageRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	const sqlQuery = `
		UPDATE chat_messages SET is_deleted = true, update_time = $2
		WHERE session_id = $1 AND is_deleted = false`

	tag, err := r.db.Exec(ctx, sqlQuery, sessionID, time.Now().UTC())
	if err != nil {
		r.logger.Error("删除会话消息失败", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("删除会话消息失败: %w", err)
	}

	r.logger.Info("会话消息删除成功",
		zap.String("session_id", sessionID),
		zap.Int64("deleted", tag.RowsAffected()))

	return nil
}

// scanMany 执行多行查询并扫描消息列表
func (r *chatMessageRepository) scanMany(ctx context.Context, sqlQuery string, args ...any) ([]*repository.ChatMessage, error) {
	rows, err := r.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		r.logger.Error("查询对话消息失败", zap.Error(err))
		return nil, fmt.Errorf("查询对话消息失败: %w", err)
	}
	defer rows.Close()

	var messages []*repository.ChatMessage
	for rows.Next() {
		msg := &repository.ChatMessage{}
		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.UserID,
			&msg.Role,
			&msg.Content,
			&msg.QueryRecordID,
			&msg.CreateBy,
			&msg.CreateTime,
			&msg.UpdateBy,
			&msg.UpdateTime,
			&msg.IsDeleted,
		)
		if err != nil {
			return nil, fmt.Errorf("扫描对话消息失败: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
