package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/llm"
	"sqlchat-go/internal/repository"
)

// HealthService 健康和就绪检查服务
// 数据库和Redis是硬依赖，本地模型服务只影响健康度不影响就绪
type HealthService struct {
	repo        repository.Repository
	redisClient redis.UniversalClient
	router      *llm.Router
	appInfo     *config.AppInfo
	logger      *zap.Logger
}

// NewHealthService 创建健康检查服务
func NewHealthService(
	repo repository.Repository,
	redisClient redis.UniversalClient,
	router *llm.Router,
	appInfo *config.AppInfo,
	logger *zap.Logger,
) *HealthService {
	return &HealthService{
		repo:        repo,
		redisClient: redisClient,
		router:      router,
		appInfo:     appInfo,
		logger:      logger,
	}
}

// HealthStatus 健康状态枚举
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus 单个组件的检查结果
type ComponentStatus struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration,omitempty"`
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Status      HealthStatus               `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Service     string                     `json:"service"`
	Version     string                     `json:"version"`
	Environment string                     `json:"environment"`
	Components  map[string]ComponentStatus `json:"components"`
	BuildInfo   map[string]any             `json:"build_info,omitempty"`
}

// ReadinessResult 就绪检查结果
type ReadinessResult struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
}

// CheckHealth 执行健康检查
// 任一组件异常时整体降级，本地模型不可用同样只降级
func (h *HealthService) CheckHealth(ctx context.Context) *HealthCheckResult {
	components := make(map[string]ComponentStatus)
	overall := HealthStatusHealthy

	dbStatus := h.checkDatabase(ctx)
	components["database"] = dbStatus
	if dbStatus.Status != HealthStatusHealthy {
		overall = HealthStatusDegraded
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis(ctx)
		components["redis"] = redisStatus
		if redisStatus.Status != HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	if h.router != nil {
		llmStatus := h.checkLocalModels(ctx)
		components["local_models"] = llmStatus
		if llmStatus.Status != HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return &HealthCheckResult{
		Status:      overall,
		Timestamp:   time.Now(),
		Service:     h.appInfo.Name,
		Version:     h.appInfo.Version,
		Environment: h.appInfo.Environment,
		Components:  components,
		BuildInfo:   h.appInfo.GetBuildInfo(),
	}
}

// CheckReadiness 执行就绪检查
// 数据库和Redis必须可用，模型路由有降级通道所以不参与就绪判定
func (h *HealthService) CheckReadiness(ctx context.Context) *ReadinessResult {
	components := make(map[string]ComponentStatus)
	overall := HealthStatusHealthy

	dbStatus := h.checkDatabase(ctx)
	components["database"] = dbStatus
	if dbStatus.Status != HealthStatusHealthy {
		overall = HealthStatusUnhealthy
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis(ctx)
		components["redis"] = redisStatus
		if redisStatus.Status != HealthStatusHealthy {
			overall = HealthStatusUnhealthy
		}
	}

	return &ReadinessResult{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// GetVersionInfo 获取构建版本信息
func (h *HealthService) GetVersionInfo() map[string]any {
	return h.appInfo.GetBuildInfo()
}

func (h *HealthService) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()

	if h.repo == nil {
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   "数据库连接未配置",
			Timestamp: time.Now(),
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := h.repo.HealthCheck(timeoutCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.Error("数据库健康检查失败", zap.Error(err))
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("数据库连接失败: %v", err),
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
	}

	status, message := HealthStatusHealthy, "数据库连接正常"
	if duration > 2*time.Second {
		status, message = HealthStatusDegraded, "数据库响应较慢"
	}

	return ComponentStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  duration.String(),
	}
}

func (h *HealthService) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := h.redisClient.Ping(timeoutCtx).Err()
	duration := time.Since(start)

	if err != nil {
		h.logger.Error("Redis健康检查失败", zap.Error(err))
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("Redis连接失败: %v", err),
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
	}

	status, message := HealthStatusHealthy, "Redis连接正常"
	if duration > time.Second {
		status, message = HealthStatusDegraded, "Redis响应较慢"
	}

	return ComponentStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  duration.String(),
	}
}

func (h *HealthService) checkLocalModels(ctx context.Context) ComponentStatus {
	start := time.Now()

	registry := h.router.Registry()
	if registry == nil {
		return ComponentStatus{
			Status:    HealthStatusDegraded,
			Message:   "本地模型服务未配置",
			Timestamp: time.Now(),
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !registry.Available(timeoutCtx) {
		return ComponentStatus{
			Status:    HealthStatusDegraded,
			Message:   "Ollama服务不可达，请求将降级到云端模式",
			Timestamp: time.Now(),
			Duration:  time.Since(start).String(),
		}
	}

	return ComponentStatus{
		Status:    HealthStatusHealthy,
		Message:   "本地模型服务正常",
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
	}
}
