// HTTP中间件集合
// 恢复、结构化日志、安全头、CORS、按用户限流和请求ID追踪
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Logger    *zap.Logger
	RateLimit *RateLimitConfig
	CORS      *CORSConfig
	Security  *SecurityConfig
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	CleanupInterval   time.Duration
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           int
}

// SecurityConfig 安全头配置
type SecurityConfig struct {
	EnableCSP  bool
	EnableHSTS bool
}

// DefaultMiddlewareConfig 默认中间件配置
func DefaultMiddlewareConfig(logger *zap.Logger) *MiddlewareConfig {
	return &MiddlewareConfig{
		Logger: logger,
		RateLimit: &RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			CleanupInterval:   5 * time.Minute,
		},
		CORS: &CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           86400,
		},
		Security: &SecurityConfig{
			EnableCSP:  true,
			EnableHSTS: true,
		},
	}
}

// SetupMiddleware 按固定顺序装配全局中间件
func SetupMiddleware(r *gin.Engine, config *MiddlewareConfig) {
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(RequestIDMiddleware())
	r.Use(StructuredLogger(config.Logger))
	r.Use(SecurityHeaders(config.Security))
	r.Use(CORSMiddleware(config.CORS))
	r.Use(RateLimitMiddleware(config.RateLimit))
}

// RecoveryMiddleware 捕获panic并返回统一的500响应
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if logger != nil {
			logger.Error("request panic recovered",
				zap.Any("panic", recovered),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"code":      "INTERNAL_ERROR",
			"message":   "服务器内部错误",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}

// StructuredLogger 将每个请求记录为一条zap结构化日志
func StructuredLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("body_size", c.Writer.Size()))
	}
}

// SecurityHeaders 设置安全相关的响应头
func SecurityHeaders(config *SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if config.EnableHSTS && c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if config.EnableCSP {
			c.Header("Content-Security-Policy",
				"default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}

		c.Next()
	}
}

// CORSMiddleware 处理跨域请求和预检
func CORSMiddleware(config *CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(config.AllowOrigins) > 0 && (config.AllowOrigins[0] == "*" || containsString(config.AllowOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		if len(config.AllowMethods) > 0 {
			c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		}
		if len(config.AllowHeaders) > 0 {
			c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		}
		if config.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if config.MaxAge > 0 {
			c.Header("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 按键值分桶的令牌桶限流器
type RateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int

	mu              sync.Mutex
	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		rate:            rate.Limit(config.RequestsPerSecond),
		burst:           config.Burst,
		cleanupInterval: config.CleanupInterval,
		lastCleanup:     time.Now(),
	}
}

// Allow 检查键值对应的请求是否放行
func (rl *RateLimiter) Allow(key string) bool {
	rl.cleanup()

	value, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	return value.(*rate.Limiter).Allow()
}

// cleanup 周期性重建限流器表，防止键无限增长
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < rl.cleanupInterval {
		return
	}
	rl.limiters.Range(func(key, _ any) bool {
		rl.limiters.Delete(key)
		return true
	})
	rl.lastCleanup = time.Now()
}

// RateLimitMiddleware 按调用方身份限流
func RateLimitMiddleware(config *RateLimitConfig) gin.HandlerFunc {
	limiter := NewRateLimiter(config)

	return func(c *gin.Context) {
		limitKey := rateLimitKey(c)

		if !limiter.Allow(limitKey) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":        "RATE_LIMIT_EXCEEDED",
				"message":     "请求频率超过限制，请稍后重试",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// rateLimitKey 选择限流分桶键
// 全局限流先于JWT校验执行，携带Bearer token的请求按token指纹分桶，
// 已认证上下文按用户ID，其余按客户端IP
func rateLimitKey(c *gin.Context) string {
	if userID, ok := GetUserIDFromContext(c); ok {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		sum := sha256.Sum256([]byte(header))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + c.ClientIP()
}

// RequestIDMiddleware 为每个请求设置追踪ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
