package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/auth"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	jwtService *auth.JWTService
	logger     *zap.Logger
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(jwtService *auth.JWTService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger,
	}
}

// JWTAuth 验证访问令牌并注入用户上下文
func (am *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			am.logger.Warn("missing or malformed authorization header",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "MISSING_AUTH_HEADER",
				"message": "缺少或无效的授权头",
			})
			c.Abort()
			return
		}

		claims, err := am.jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			am.logger.Warn("JWT validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "无效的访问令牌",
			})
			c.Abort()
			return
		}

		revoked, err := am.jwtService.IsTokenRevoked(c.Request.Context(), claims)
		if err != nil {
			am.logger.Error("failed to check token revocation",
				zap.Error(err),
				zap.Int64("user_id", claims.UserID))
		} else if revoked {
			am.logger.Warn("revoked token used",
				zap.String("jti", claims.ID),
				zap.Int64("user_id", claims.UserID))
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "TOKEN_REVOKED",
				"message": "令牌已被撤销",
			})
			c.Abort()
			return
		}

		if am.jwtService.IsTokenExpiringSoon(claims, 5*time.Minute) {
			c.Header("X-Token-Expiring", "true")
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("user_role", claims.Role)
		c.Set("jwt_claims", claims)

		c.Next()
	}
}

// OptionalAuth 有token则验证并注入上下文，没有则放行
func (am *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.Next()
			return
		}

		claims, err := am.jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			am.logger.Warn("optional JWT validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path))
			c.Next()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("user_role", claims.Role)
		c.Set("jwt_claims", claims)
		c.Next()
	}
}

// RequireRole 要求用户具有任一指定角色，admin始终放行
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRoleFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "MISSING_ROLE",
				"message": "用户角色信息缺失",
			})
			c.Abort()
			return
		}

		allowed := role == "admin"
		for _, required := range requiredRoles {
			if role == required {
				allowed = true
				break
			}
		}

		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{
				"code":           "INSUFFICIENT_PERMISSIONS",
				"message":        "权限不足",
				"required_roles": requiredRoles,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetUserIDFromContext 从上下文取认证后的用户ID
func GetUserIDFromContext(c *gin.Context) (int64, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// GetUsernameFromContext 从上下文取用户名
func GetUsernameFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get("username")
	if !exists {
		return "", false
	}
	name, ok := value.(string)
	return name, ok
}

// GetUserRoleFromContext 从上下文取用户角色
func GetUserRoleFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get("user_role")
	if !exists {
		return "", false
	}
	role, ok := value.(string)
	return role, ok
}

// GetJWTClaimsFromContext 从上下文取完整Claims
func GetJWTClaimsFromContext(c *gin.Context) (*auth.CustomClaims, bool) {
	value, exists := c.Get("jwt_claims")
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.CustomClaims)
	return claims, ok
}
