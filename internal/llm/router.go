// 处理模式路由 - 将处理模式解析为SQL生成/答案生成两个阶段的客户端
// 本地或云端不可用时自动降级，降级结果回传给调用方记录

package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sqlchat-go/internal/config"
)

// Generator 单个生成阶段所需的最小客户端能力，*Client是默认实现
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}

// StagePlan 一次请求的执行计划
type StagePlan struct {
	// SQLClient 负责SQL生成阶段
	SQLClient Generator

	// AnswerClient 负责答案生成阶段
	AnswerClient Generator

	// Mode 实际生效的处理模式（可能与请求的模式不同）
	Mode config.ProcessingMode

	// Degraded 是否发生过降级
	Degraded bool

	// SanitizeSchema SQL生成阶段是否需要脱敏Schema
	SanitizeSchema bool

	// SanitizeAnswerSchema 答案生成阶段是否需要脱敏Schema
	// 混合模式下SQL阶段在本地可见原始Schema，答案阶段上云必须脱敏
	SanitizeAnswerSchema bool

	// SanitizeResults 答案生成阶段是否需要脱敏结果
	SanitizeResults bool
}

// Router 处理模式路由器
type Router struct {
	cfg      *config.LLMConfig
	catalog  *Catalog
	registry *LocalRegistry
	logger   *zap.Logger

	mu          sync.RWMutex
	localClient *Client
	cloudClient *Client
	currentMode config.ProcessingMode
}

// NewRouter 创建路由器并初始化本地/云端客户端
// 纯本地模式下云端客户端缺少密钥时允许为nil
func NewRouter(cfg *config.LLMConfig, registry *LocalRegistry, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}

	r := &Router{
		cfg:         cfg,
		catalog:     NewCatalog(),
		registry:    registry,
		logger:      logger,
		currentMode: cfg.Mode,
	}

	local, err := NewClient(cfg.Local, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化本地客户端失败: %w", err)
	}
	r.localClient = local

	if cfg.Cloud.APIKey != "" {
		cloud, err := NewClient(cfg.Cloud, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化云端客户端失败: %w", err)
		}
		r.cloudClient = cloud
	} else if cfg.Mode != config.ModeLocalOnly {
		return nil, fmt.Errorf("处理模式%s需要云端API密钥", cfg.Mode)
	}

	return r, nil
}

// CurrentMode 返回当前默认处理模式
func (r *Router) CurrentMode() config.ProcessingMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentMode
}

// SetMode 切换默认处理模式
func (r *Router) SetMode(mode config.ProcessingMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("无效的处理模式: %s", mode)
	}
	if mode != config.ModeLocalOnly && r.cloudClient == nil {
		return fmt.Errorf("未配置云端API密钥，无法切换到%s模式", mode)
	}

	r.mu.Lock()
	r.currentMode = mode
	r.mu.Unlock()

	r.logger.Info("处理模式已切换", zap.String("mode", string(mode)))
	return nil
}

// Catalog 返回模型目录
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

// Registry 返回本地模型注册表
func (r *Router) Registry() *LocalRegistry {
	return r.registry
}

// Resolve 解析处理模式为执行计划
// mode为空时使用当前默认模式；本地不可用降级到cloud-only，云端未配置降级到local-only
func (r *Router) Resolve(ctx context.Context, mode config.ProcessingMode) (*StagePlan, error) {
	if mode == "" {
		mode = r.CurrentMode()
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("无效的处理模式: %s", mode)
	}

	localUp := r.localAvailable(ctx)
	requested := mode
	degraded := false

	// 需要本地但本地不可用：降级到纯云端
	if (mode == config.ModeLocalOnly || mode == config.ModeHybrid) && !localUp {
		if r.cloudClient == nil {
			return nil, fmt.Errorf("%w，且未配置云端回退", ErrLocalUnavailable)
		}
		mode = config.ModeCloudOnly
		degraded = true
	}

	// 需要云端但云端未配置：降级到纯本地
	if (mode == config.ModeCloudOnly || mode == config.ModeHybrid) && r.cloudClient == nil {
		if !localUp {
			return nil, fmt.Errorf("云端未配置且%w", ErrLocalUnavailable)
		}
		mode = config.ModeLocalOnly
		degraded = true
	}

	if degraded {
		r.logger.Warn("处理模式降级",
			zap.String("requested", string(requested)),
			zap.String("effective", string(mode)))
	}

	plan := &StagePlan{Mode: mode, Degraded: degraded}

	switch mode {
	case config.ModeLocalOnly:
		// 数据不出本机，无需脱敏
		plan.SQLClient = r.localClient
		plan.AnswerClient = r.localClient

	case config.ModeHybrid:
		// SQL生成本地完成可见原始Schema，答案阶段送云端的内容全部脱敏
		plan.SQLClient = r.localClient
		plan.AnswerClient = r.cloudClient
		plan.SanitizeAnswerSchema = true
		plan.SanitizeResults = true

	case config.ModeCloudOnly:
		plan.SQLClient = r.cloudClient
		plan.AnswerClient = r.cloudClient
		plan.SanitizeSchema = true
		plan.SanitizeAnswerSchema = true
		plan.SanitizeResults = true
	}

	return plan, nil
}

// ValidateConfiguration 启动时验证各客户端可用性
// 本地不可用仅告警（运行期还会降级），云端配置了但不可用返回错误
func (r *Router) ValidateConfiguration(ctx context.Context) error {
	if !r.localAvailable(ctx) {
		r.logger.Warn("本地Ollama服务不可达，本地相关模式将降级")
	}

	if r.cloudClient != nil {
		if err := r.cloudClient.Check(ctx); err != nil {
			return fmt.Errorf("云端模型验证失败: %w", err)
		}
	}

	return nil
}

// localAvailable 判断本地Ollama是否可用
func (r *Router) localAvailable(ctx context.Context) bool {
	if r.registry == nil {
		return false
	}
	return r.registry.Available(ctx)
}
