// 对话查询HTTP处理器
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/middleware"
	"sqlchat-go/internal/repository"
	"sqlchat-go/internal/service"
)

// ChatServiceInterface 对话服务接口定义
type ChatServiceInterface interface {
	Chat(ctx context.Context, req *service.ChatRequest) (*service.ChatResponse, error)
	History(ctx context.Context, userID int64, sessionID string, limit int) ([]*repository.ChatMessage, error)
	Sessions(ctx context.Context, userID int64, limit, offset int) ([]string, error)
}

// ChatHandler 对话查询处理器
type ChatHandler struct {
	chatService ChatServiceInterface
	logger      *zap.Logger
	timeout     time.Duration
}

// NewChatHandler 创建对话处理器实例
func NewChatHandler(chatService ChatServiceInterface, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
		// 链路包含两次LLM调用和一次查询执行
		timeout: 120 * time.Second,
	}
}

// ChatAPIRequest 对话API请求结构
type ChatAPIRequest struct {
	Question     string `json:"question" binding:"required,min=1,max=1000" example:"上个月销售额最高的前五个商品是什么"`
	ConnectionID int64  `json:"connection_id" binding:"required,min=1" example:"1"`
	SessionID    string `json:"session_id,omitempty" example:"6e1f1bb0-7a9f-4f53-8f6e-1c2d3e4f5a6b"`
	Mode         string `json:"mode,omitempty" binding:"omitempty,oneof=local-only hybrid cloud-only" example:"hybrid"`
}

// ChatHistoryResponse 会话历史响应
type ChatHistoryResponse struct {
	SessionID string                    `json:"session_id"`
	Messages  []*repository.ChatMessage `json:"messages"`
	Total     int                       `json:"total"`
}

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
	Total    int      `json:"total"`
}

// Chat 处理一轮自然语言查询
// @Summary 自然语言查询
// @Description 将自然语言问题转换为SQL、执行并生成自然语言回答
// @Tags 对话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChatAPIRequest true "查询请求"
// @Success 200 {object} service.ChatResponse "查询结果"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 403 {object} ErrorResponse "无权访问该连接"
// @Failure 408 {object} ErrorResponse "处理超时"
// @Failure 429 {object} ErrorResponse "请求频率限制"
// @Failure 503 {object} ErrorResponse "模型服务不可用"
// @Router /api/v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString("request_id")

	var req ChatAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat request",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效", err.Error(), requestID)
		return
	}

	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		h.respondWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "认证信息无效", "user_id not found in context", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	h.logger.Info("chat request started",
		zap.String("request_id", requestID),
		zap.Int64("user_id", userID),
		zap.Int64("connection_id", req.ConnectionID),
		zap.String("mode", req.Mode))

	response, err := h.chatService.Chat(ctx, &service.ChatRequest{
		UserID:       userID,
		SessionID:    req.SessionID,
		ConnectionID: req.ConnectionID,
		Question:     req.Question,
		Mode:         config.ProcessingMode(req.Mode),
	})
	if err != nil {
		status, code, message := classifyChatError(err)
		h.logger.Error("chat request failed",
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)))
		h.respondWithError(c, status, code, message, err.Error(), requestID)
		return
	}

	h.logger.Info("chat request completed",
		zap.String("request_id", requestID),
		zap.String("session_id", response.SessionID),
		zap.String("model", response.ModelUsed),
		zap.Bool("blocked", response.Blocked),
		zap.Bool("degraded", response.Degraded),
		zap.Duration("elapsed", time.Since(start)))

	c.JSON(http.StatusOK, response)
}

// GetHistory 获取会话历史消息
// @Summary 会话历史
// @Tags 对话
// @Produce json
// @Security BearerAuth
// @Param session_id path string true "会话ID"
// @Param limit query int false "返回条数上限，默认50"
// @Success 200 {object} ChatHistoryResponse "历史消息"
// @Failure 403 {object} ErrorResponse "无权访问该会话"
// @Router /api/v1/chat/history/{session_id} [get]
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("INVALID_SESSION_ID", "会话ID不能为空"))
		return
	}

	limit := parsePositiveQueryInt(c, "limit", 50, 200)
	messages, err := h.chatService.History(c.Request.Context(), userID, sessionID, limit)
	if err != nil {
		status, code, message := classifyChatError(err)
		c.JSON(status, NewErrorResponse(code, message))
		return
	}

	c.JSON(http.StatusOK, &ChatHistoryResponse{
		SessionID: sessionID,
		Messages:  messages,
		Total:     len(messages),
	})
}

// GetSessions 获取当前用户的会话列表
// @Summary 会话列表
// @Tags 对话
// @Produce json
// @Security BearerAuth
// @Param limit query int false "返回条数上限，默认20"
// @Param offset query int false "偏移量"
// @Success 200 {object} SessionListResponse "会话列表"
// @Router /api/v1/chat/sessions [get]
func (h *ChatHandler) GetSessions(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	limit := parsePositiveQueryInt(c, "limit", 20, 100)
	offset := parsePositiveQueryInt(c, "offset", 0, 1<<30)

	sessions, err := h.chatService.Sessions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "会话列表查询失败"))
		return
	}

	c.JSON(http.StatusOK, &SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

func (h *ChatHandler) respondWithError(c *gin.Context, statusCode int, code, message, detail, requestID string) {
	c.JSON(statusCode, &ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	})
}

// classifyChatError 将服务层错误映射为HTTP状态码
func classifyChatError(err error) (int, string, string) {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST", "请求参数无效"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "数据库连接不存在"
	case errors.Is(err, repository.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED", "无权访问该资源"
	case isTimeoutError(err):
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT", "查询处理超时，请稍后重试"
	case isRateLimitError(err):
		return http.StatusTooManyRequests, "RATE_LIMITED", "请求过于频繁，请稍后重试"
	case isModelUnavailableError(err):
		return http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", "模型服务暂时不可用"
	default:
		return http.StatusInternalServerError, "CHAT_FAILED", "查询处理失败"
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

func isModelUnavailableError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "不可用") || strings.Contains(strings.ToLower(msg), "connection refused")
}

func parsePositiveQueryInt(c *gin.Context, key string, defaultValue, maxValue int) int {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
