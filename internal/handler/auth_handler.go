package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/auth"
	"sqlchat-go/internal/metrics"
	"sqlchat-go/internal/middleware"
	"sqlchat-go/internal/repository"
)

// AuthHandler 认证处理器
// 处理用户注册、登录、Token刷新、注销和账户管理
type AuthHandler struct {
	userRepo   repository.UserRepository
	jwtService *auth.JWTService
	metrics    *metrics.PrometheusMetrics
	logger     *zap.Logger
}

// NewAuthHandler 创建认证处理器实例
func NewAuthHandler(
	userRepo repository.UserRepository,
	jwtService *auth.JWTService,
	pm *metrics.PrometheusMetrics,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		userRepo:   userRepo,
		jwtService: jwtService,
		metrics:    pm,
		logger:     logger,
	}
}

// RegisterRequest 用户注册请求结构
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50" example:"john_doe"`
	Email    string `json:"email" binding:"required,email,max=100" example:"john@example.com"`
	Password string `json:"password" binding:"required,min=8,max=100" example:"SecurePass123!"`
}

// LoginRequest 用户登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"john_doe"`
	Password string `json:"password" binding:"required" example:"SecurePass123!"`
}

// RefreshTokenRequest Token刷新请求结构
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required" example:"eyJhbGciOiJSUzI1NiI..."`
}

// ChangePasswordRequest 修改密码请求结构
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required" example:"OldPass123!"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=100" example:"NewPass456!"`
}

// AuthResponse 认证响应结构
type AuthResponse struct {
	AccessToken  string    `json:"access_token" example:"eyJhbGciOiJSUzI1NiI..."`
	RefreshToken string    `json:"refresh_token" example:"eyJhbGciOiJSUzI1NiI..."`
	TokenType    string    `json:"token_type" example:"Bearer"`
	ExpiresIn    int64     `json:"expires_in" example:"3600"`
	ExpiresAt    time.Time `json:"expires_at" example:"2024-01-08T13:00:00Z"`
	User         *UserInfo `json:"user"`
}

// UserInfo 用户信息结构（不包含敏感信息）
type UserInfo struct {
	ID       int64  `json:"id" example:"1"`
	Username string `json:"username" example:"john_doe"`
	Email    string `json:"email" example:"john@example.com"`
	Role     string `json:"role" example:"user"`
	Status   string `json:"status" example:"active"`
}

// Register 用户注册
// @Summary 用户注册
// @Description 创建新用户账户，需要唯一的用户名和邮箱
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "注册信息"
// @Success 201 {object} AuthResponse "注册成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 409 {object} ErrorResponse "用户名或邮箱已存在"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid register request",
			zap.Error(err),
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	exists, err := h.userRepo.ExistsByUsername(c.Request.Context(), req.Username)
	if err != nil {
		h.logger.Error("Failed to check username existence",
			zap.Error(err),
			zap.String("username", req.Username))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}
	if exists {
		h.recordRegistration("duplicate")
		c.JSON(http.StatusConflict, NewErrorResponse("USERNAME_EXISTS", "用户名已存在"))
		return
	}

	exists, err = h.userRepo.ExistsByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("Failed to check email existence",
			zap.Error(err),
			zap.String("email", req.Email))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}
	if exists {
		h.recordRegistration("duplicate")
		c.JSON(http.StatusConflict, NewErrorResponse("EMAIL_EXISTS", "邮箱地址已存在"))
		return
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("INTERNAL_ERROR", "服务器内部错误"))
		return
	}

	user := &repository.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         repository.RoleUser,
		Status:       repository.UserStatusActive,
	}
	if err := h.userRepo.Create(c.Request.Context(), user); err != nil {
		h.logger.Error("Failed to create user",
			zap.Error(err),
			zap.String("username", req.Username))
		h.recordRegistration("failed")
		c.JSON(http.StatusInternalServerError, NewErrorResponse("CREATE_USER_FAILED", "用户创建失败"))
		return
	}

	response, err := h.buildAuthResponse(user)
	if err != nil {
		h.logger.Error("Failed to generate token pair",
			zap.Error(err),
			zap.Int64("user_id", user.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("TOKEN_GENERATION_FAILED", "令牌生成失败"))
		return
	}

	h.recordRegistration("success")
	h.logger.Info("User registered successfully",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("remote_addr", c.ClientIP()))

	c.JSON(http.StatusCreated, response)
}

// Login 用户登录
// @Summary 用户登录
// @Description 验证用户凭据并返回JWT Token
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body LoginRequest true "登录信息"
// @Success 200 {object} AuthResponse "登录成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "用户名或密码错误"
// @Failure 423 {object} ErrorResponse "账户被停用"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid login request",
			zap.Error(err),
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	user, err := h.userRepo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if repository.IsNotFound(err) {
			// 用户不存在时也返回统一的401，避免用户名枚举
			c.JSON(http.StatusUnauthorized, NewErrorResponse("INVALID_CREDENTIALS", "用户名或密码错误"))
			return
		}
		h.logger.Error("Failed to query user",
			zap.Error(err),
			zap.String("username", req.Username))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}

	match, err := verifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		h.logger.Error("Password verification failed",
			zap.Error(err),
			zap.Int64("user_id", user.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("INTERNAL_ERROR", "服务器内部错误"))
		return
	}
	if !match {
		h.logger.Warn("Login failed: wrong password",
			zap.Int64("user_id", user.ID),
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, NewErrorResponse("INVALID_CREDENTIALS", "用户名或密码错误"))
		return
	}

	if user.Status != repository.UserStatusActive {
		c.JSON(http.StatusLocked, NewErrorResponse("ACCOUNT_DISABLED", "账户已被停用"))
		return
	}

	if err := h.userRepo.UpdateLastLogin(c.Request.Context(), user.ID, time.Now()); err != nil {
		// 登录时间更新失败不阻断登录
		h.logger.Warn("Failed to update last login time",
			zap.Error(err),
			zap.Int64("user_id", user.ID))
	}

	response, err := h.buildAuthResponse(user)
	if err != nil {
		h.logger.Error("Failed to generate token pair",
			zap.Error(err),
			zap.Int64("user_id", user.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("TOKEN_GENERATION_FAILED", "令牌生成失败"))
		return
	}

	h.logger.Info("User logged in",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("remote_addr", c.ClientIP()))

	c.JSON(http.StatusOK, response)
}

// RefreshToken 刷新访问令牌
// @Summary 刷新Token
// @Description 使用刷新令牌换取新的令牌对，旧刷新令牌同时作废
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body RefreshTokenRequest true "刷新令牌"
// @Success 200 {object} auth.TokenPair "刷新成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "刷新令牌无效或已撤销"
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	pair, err := h.jwtService.RefreshTokenPair(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.logger.Warn("Token refresh failed",
			zap.Error(err),
			zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, NewErrorResponse("INVALID_REFRESH_TOKEN", "刷新令牌无效或已过期"))
		return
	}

	c.JSON(http.StatusOK, pair)
}

// Logout 用户注销
// @Summary 用户注销
// @Description 撤销当前访问令牌，使其立即失效
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SuccessResponse "注销成功"
// @Failure 401 {object} ErrorResponse "未授权访问"
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenString, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("MISSING_AUTH_HEADER", "缺少或无效的授权头"))
		return
	}

	if err := h.jwtService.RevokeToken(c.Request.Context(), tokenString); err != nil {
		h.logger.Error("Failed to revoke token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("REVOKE_FAILED", "令牌撤销失败"))
		return
	}

	if userID, ok := middleware.GetUserIDFromContext(c); ok {
		h.logger.Info("User logged out", zap.Int64("user_id", userID))
	}
	c.JSON(http.StatusOK, NewSuccessResponse("LOGGED_OUT", "注销成功"))
}

// GetProfile 获取当前用户信息
// @Summary 获取个人信息
// @Tags 用户
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserInfo "用户信息"
// @Failure 404 {object} ErrorResponse "用户不存在"
// @Router /api/v1/users/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, NewErrorResponse("USER_NOT_FOUND", "用户不存在"))
			return
		}
		h.logger.Error("Failed to load user profile",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}

	c.JSON(http.StatusOK, toUserInfo(user))
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Description 校验旧密码后更新为新密码
// @Tags 用户
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "密码修改请求"
// @Success 200 {object} SuccessResponse "修改成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "旧密码错误"
// @Router /api/v1/users/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load user",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}

	match, err := verifyPassword(req.OldPassword, user.PasswordHash)
	if err != nil {
		h.logger.Error("Password verification failed",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("INTERNAL_ERROR", "服务器内部错误"))
		return
	}
	if !match {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("WRONG_PASSWORD", "旧密码错误"))
		return
	}

	newHash, err := hashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("Failed to hash new password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("INTERNAL_ERROR", "服务器内部错误"))
		return
	}

	user.PasswordHash = newHash
	if err := h.userRepo.Update(c.Request.Context(), user); err != nil {
		h.logger.Error("Failed to update password",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("UPDATE_FAILED", "密码更新失败"))
		return
	}

	h.logger.Info("Password changed", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, NewSuccessResponse("PASSWORD_CHANGED", "密码修改成功"))
}

// buildAuthResponse 生成令牌对并组装认证响应
func (h *AuthHandler) buildAuthResponse(user *repository.User) (*AuthResponse, error) {
	pair, err := h.jwtService.GenerateTokenPair(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		ExpiresAt:    pair.ExpiresAt,
		User:         toUserInfo(user),
	}, nil
}

func toUserInfo(user *repository.User) *UserInfo {
	return &UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
		Status:   string(user.Status),
	}
}

func (h *AuthHandler) recordRegistration(status string) {
	if h.metrics != nil {
		h.metrics.RecordUserRegistration(status)
	}
}
