// LLM客户端 - 基于LangChainGo封装OpenAI/Groq/Ollama三类提供商
// Groq走OpenAI兼容接口，本地推理走Ollama

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
)

// ErrLocalUnavailable 本地Ollama服务不可用
var ErrLocalUnavailable = errors.New("本地Ollama服务不可用")

// Client 单个模型提供商的客户端封装
type Client struct {
	model  llms.Model
	config config.ProviderConfig
	logger *zap.Logger
}

// NewClient 根据提供商配置创建客户端
func NewClient(cfg config.ProviderConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := createModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建%s模型实例失败: %w", cfg.Provider, err)
	}

	logger.Info("LLM客户端初始化成功",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))

	return &Client{
		model:  model,
		config: cfg,
		logger: logger,
	}, nil
}

// createModel 按提供商创建LangChainGo模型实例
func createModel(cfg config.ProviderConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithHTTPClient(newHTTPClient(cfg.Timeout)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case config.ProviderGroq:
		// Groq暴露OpenAI兼容API，复用openai客户端
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = config.GroqBaseURL
		}
		return openai.New(
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(baseURL),
			openai.WithHTTPClient(newHTTPClient(cfg.Timeout)),
		)

	case config.ProviderOllama:
		return ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
		)

	default:
		return nil, fmt.Errorf("不支持的提供商: %s", cfg.Provider)
	}
}

// newHTTPClient 创建带连接复用的HTTP客户端
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// Generate 单轮提示词生成
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	response, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(c.config.Temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		c.logger.Error("LLM生成失败",
			zap.String("provider", c.config.Provider),
			zap.String("model", c.config.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("%s生成失败: %w", c.config.Provider, err)
	}

	c.logger.Debug("LLM生成完成",
		zap.String("provider", c.config.Provider),
		zap.String("model", c.config.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_length", len(response)))

	return response, nil
}

// Check 用最小请求验证提供商可达性
func (c *Client) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := llms.GenerateFromSinglePrompt(checkCtx, c.model, "ping",
		llms.WithMaxTokens(1),
	)
	if err != nil {
		if c.config.Provider == config.ProviderOllama {
			return fmt.Errorf("%w: %v", ErrLocalUnavailable, err)
		}
		return fmt.Errorf("%s可用性检查失败: %w", c.config.Provider, err)
	}

	return nil
}

// Provider 返回提供商名称
func (c *Client) Provider() string {
	return c.config.Provider
}

// Model 返回模型名称
func (c *Client) Model() string {
	return c.config.Model
}

// IsLocal 判断是否为本地推理客户端
func (c *Client) IsLocal() bool {
	return c.config.Provider == config.ProviderOllama
}
