// HTTP路由配置
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"sqlchat-go/internal/metrics"
	"sqlchat-go/internal/service"
)

// AuthMiddlewareInterface 认证中间件接口
type AuthMiddlewareInterface interface {
	JWTAuth() gin.HandlerFunc
}

// RouterConfig 路由配置
type RouterConfig struct {
	AuthHandler       *AuthHandler
	ChatHandler       *ChatHandler
	ModelHandler      *ModelHandler
	ConnectionHandler *ConnectionHandler
	SchemaHandler     *SchemaHandler
	HealthService     *service.HealthService
	Metrics           *metrics.PrometheusMetrics
	AuthMiddleware    AuthMiddlewareInterface
}

func init() {
	// 数值字段按json.Number解析，拒绝未知字段
	binding.EnableDecoderUseNumber = true
	binding.EnableDecoderDisallowUnknownFields = true
}

// SetupRoutes 注册全部路由
func SetupRoutes(r *gin.Engine, config *RouterConfig) {
	setupSystemRoutes(r, config)

	v1 := r.Group("/api/v1")

	// 公开接口：认证和演示Schema
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", config.AuthHandler.Register)
		authGroup.POST("/login", config.AuthHandler.Login)
		authGroup.POST("/refresh", config.AuthHandler.RefreshToken)
	}

	if config.SchemaHandler != nil {
		sampleGroup := v1.Group("/schema")
		{
			sampleGroup.GET("/sample", config.SchemaHandler.GetSampleDiagram)
			sampleGroup.GET("/sample/questions", config.SchemaHandler.GetSampleQuestions)
		}
	}

	// 需要认证的接口
	protected := v1.Group("")
	protected.Use(config.AuthMiddleware.JWTAuth())
	{
		protected.POST("/auth/logout", config.AuthHandler.Logout)

		userGroup := protected.Group("/users")
		{
			userGroup.GET("/profile", config.AuthHandler.GetProfile)
			userGroup.POST("/change-password", config.AuthHandler.ChangePassword)
		}

		chatGroup := protected.Group("/chat")
		{
			chatGroup.POST("", config.ChatHandler.Chat)
			chatGroup.GET("/history/:session_id", config.ChatHandler.GetHistory)
			chatGroup.GET("/sessions", config.ChatHandler.GetSessions)
		}

		modelGroup := protected.Group("/models")
		{
			modelGroup.GET("", config.ModelHandler.ListModels)
			modelGroup.GET("/local", config.ModelHandler.ListLocalModels)
			modelGroup.GET("/mode", config.ModelHandler.GetMode)
			modelGroup.PUT("/mode", config.ModelHandler.SetMode)
		}

		connGroup := protected.Group("/connections")
		{
			connGroup.POST("", config.ConnectionHandler.CreateConnection)
			connGroup.GET("", config.ConnectionHandler.ListConnections)
			connGroup.GET("/:id", config.ConnectionHandler.GetConnection)
			connGroup.PUT("/:id", config.ConnectionHandler.UpdateConnection)
			connGroup.DELETE("/:id", config.ConnectionHandler.DeleteConnection)
			connGroup.POST("/:id/test", config.ConnectionHandler.TestConnection)
			connGroup.GET("/:id/schema", config.ConnectionHandler.GetSchema)
			connGroup.GET("/:id/diagram", config.ConnectionHandler.GetDiagram)
		}
	}
}

// setupSystemRoutes 注册健康检查、版本和指标端点
func setupSystemRoutes(r *gin.Engine, config *RouterConfig) {
	r.GET("/health", func(c *gin.Context) {
		result := config.HealthService.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if result.Status == service.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.GET("/ready", func(c *gin.Context) {
		result := config.HealthService.CheckReadiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != service.HealthStatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, config.HealthService.GetVersionInfo())
	})

	if config.Metrics != nil {
		r.GET("/metrics", config.Metrics.GetMetricsHandler())
	}
}
