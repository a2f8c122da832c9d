// sqlchat API服务入口
// 装配配置、存储、模型路由和HTTP层，支持优雅关闭
package main

import (
	"context"
	"crypto/sha256"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/auth"
	"sqlchat-go/internal/config"
	"sqlchat-go/internal/database"
	"sqlchat-go/internal/handler"
	"sqlchat-go/internal/llm"
	"sqlchat-go/internal/metrics"
	"sqlchat-go/internal/middleware"
	"sqlchat-go/internal/repository/postgres"
	"sqlchat-go/internal/security"
	"sqlchat-go/internal/service"
)

func main() {
	logger := buildLogger()
	defer logger.Sync()

	logger.Info("Starting sqlchat server",
		zap.String("go_version", runtime.Version()))

	if err := config.LoadEnv(".env"); err != nil {
		logger.Warn("加载.env文件失败", zap.Error(err))
	}

	// 配置
	dbConfig := config.LoadDatabaseConfigFromEnv()
	redisConfig := config.LoadRedisConfigFromEnv()
	llmConfig, err := config.LoadLLMConfigFromEnv()
	if err != nil {
		logger.Fatal("LLM配置无效", zap.Error(err))
	}
	jwtConfig := auth.DefaultJWTConfig()
	appInfo := config.DefaultAppInfo()

	// 数据库
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.Fatal("数据库初始化失败", zap.Error(err))
	}
	defer dbManager.Close()

	// Redis
	redisManager, err := config.NewRedisManager(redisConfig, logger)
	if err != nil {
		logger.Fatal("Redis初始化失败", zap.Error(err))
	}
	defer redisManager.Close()
	redisClient := redisManager.GetClient()

	// Repository层
	repo := postgres.NewRepository(dbManager.GetPool(), logger)

	// JWT服务
	jwtService, err := auth.NewJWTService(jwtConfig, redisClient, logger)
	if err != nil {
		logger.Fatal("JWT服务初始化失败", zap.Error(err))
	}
	if jwtConfig.AutoGenerateKeys {
		if err := jwtService.SaveKeysToFile(jwtConfig.PrivateKeyPath, jwtConfig.PublicKeyPath); err != nil {
			logger.Warn("保存JWT密钥失败", zap.Error(err))
		}
	}

	// 指标
	prometheusMetrics := metrics.NewPrometheusMetrics(metrics.DefaultMetricsConfig(), logger)
	chatMetrics := service.NewChatMetrics(prometheusMetrics.Registry())

	// 目标库连接管理
	connectionManager, err := service.NewConnectionManager(repo.ConnectionRepo(), loadEncryptionKey(logger), logger)
	if err != nil {
		logger.Fatal("连接管理器初始化失败", zap.Error(err))
	}
	if err := connectionManager.Start(); err != nil {
		logger.Fatal("连接管理器启动失败", zap.Error(err))
	}
	defer connectionManager.Stop()

	sqlExecutor := service.NewSQLExecutor(connectionManager, prometheusMetrics, logger)
	introspector := service.NewSchemaIntrospector(connectionManager, repo.SchemaRepo(), logger)
	schemaCache := service.NewSchemaCache(redisClient, repo.SchemaRepo(), introspector, 0, logger)

	// 模型路由
	registry, err := llm.NewLocalRegistry(llmConfig.Local.BaseURL, llm.NewCatalog(), logger)
	if err != nil {
		logger.Fatal("本地模型注册表初始化失败", zap.Error(err))
	}
	llmRouter, err := llm.NewRouter(llmConfig, registry, logger)
	if err != nil {
		logger.Fatal("模型路由初始化失败", zap.Error(err))
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := llmRouter.ValidateConfiguration(ctx); err != nil {
			logger.Warn("模型配置校验未通过，请求可能降级", zap.Error(err))
		}
		cancel()
	}

	// 安全组件
	guard := security.NewQueryGuard(nil, logger)
	sanitizer := security.NewDataSanitizer(nil, logger)

	// 对话服务
	chatService := service.NewChatService(
		repo, llmRouter, guard, sanitizer,
		sqlExecutor, schemaCache, chatMetrics,
		&service.ChatServiceConfig{
			HistoryTurns:     llmConfig.HistoryTurns,
			MaxRegenerations: llmConfig.MaxRegenerations,
		},
		logger,
	)

	healthService := service.NewHealthService(repo, redisClient, llmRouter, appInfo, logger)

	// HTTP层
	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	middleware.SetupMiddleware(r, middleware.DefaultMiddlewareConfig(logger))
	r.Use(prometheusMetrics.HTTPMetricsMiddleware())

	handler.SetupRoutes(r, &handler.RouterConfig{
		AuthHandler:  handler.NewAuthHandler(repo.UserRepo(), jwtService, prometheusMetrics, logger),
		ChatHandler:  handler.NewChatHandler(chatService, logger),
		ModelHandler: handler.NewModelHandler(llmRouter, logger),
		ConnectionHandler: handler.NewConnectionHandler(
			repo.ConnectionRepo(), repo.SchemaRepo(),
			connectionManager, introspector, schemaCache, logger),
		SchemaHandler:  handler.NewSchemaHandler(),
		HealthService:  healthService,
		Metrics:        prometheusMetrics,
		AuthMiddleware: authMiddleware,
	})

	// 周期上报目标库连接池数量
	poolGaugeStop := make(chan struct{})
	go reportPoolGauge(connectionManager, prometheusMetrics, poolGaugeStop)

	addr := ":" + envOrDefault("SERVER_PORT", "8080")
	srv := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   150 * time.Second, // 对话链路包含两次LLM调用
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("sqlchat server listening",
			zap.String("addr", srv.Addr),
			zap.String("mode", gin.Mode()),
			zap.String("processing_mode", string(llmRouter.CurrentMode())))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	close(poolGaugeStop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP服务强制关闭", zap.Error(err))
	} else {
		logger.Info("HTTP服务已停止")
	}

	logger.Info("sqlchat server exited")
}

// buildLogger 按环境选择日志配置
func buildLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("APP_ENV") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

// loadEncryptionKey 读取连接密码加密密钥
// 未配置时退化为派生的开发密钥，仅适用于本地环境
func loadEncryptionKey(logger *zap.Logger) []byte {
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		return []byte(key)
	}
	logger.Warn("未设置ENCRYPTION_KEY，使用开发默认密钥")
	sum := sha256.Sum256([]byte("sqlchat-dev-encryption-key"))
	return sum[:]
}

func reportPoolGauge(cm *service.ConnectionManager, pm *metrics.PrometheusMetrics, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.SetActivePools(cm.PoolCount())
		case <-stop:
			return
		}
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
