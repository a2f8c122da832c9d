// LLM配置 - 本地Ollama与云端OpenAI/Groq的双栈配置
// 处理模式决定SQL生成和答案生成两个阶段分别跑在哪一侧

package config

import (
	"fmt"
	"time"
)

// 支持的模型提供商
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
)

// Groq提供OpenAI兼容接口，走openai客户端加自定义BaseURL
const GroqBaseURL = "https://api.groq.com/openai/v1"

// ProcessingMode 处理模式
// 决定数据离开本地边界的程度
type ProcessingMode string

const (
	// ModeLocalOnly SQL生成和答案生成都在本地Ollama完成，数据不出本机
	ModeLocalOnly ProcessingMode = "local-only"

	// ModeHybrid SQL生成在本地（可见原始Schema），答案生成在云端（只见脱敏结果）
	ModeHybrid ProcessingMode = "hybrid"

	// ModeCloudOnly 两个阶段都在云端，Schema和结果都先脱敏
	ModeCloudOnly ProcessingMode = "cloud-only"
)

// IsValid 校验处理模式取值
func (m ProcessingMode) IsValid() bool {
	switch m {
	case ModeLocalOnly, ModeHybrid, ModeCloudOnly:
		return true
	}
	return false
}

// ProviderConfig 单个模型提供商配置
type ProviderConfig struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	APIKey      string        `json:"-"`
	BaseURL     string        `json:"base_url,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// Validate 校验提供商配置
func (c *ProviderConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("openai提供商需要API密钥，请设置OPENAI_API_KEY")
		}
	case ProviderGroq:
		if c.APIKey == "" {
			return fmt.Errorf("groq提供商需要API密钥，请设置GROQ_API_KEY")
		}
	case ProviderOllama:
		if c.BaseURL == "" {
			return fmt.Errorf("ollama提供商需要服务地址")
		}
	default:
		return fmt.Errorf("不支持的提供商: %s", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("模型名称不能为空")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("温度参数必须在0-2范围内: %f", c.Temperature)
	}

	return nil
}

// LLMConfig LLM整体配置
type LLMConfig struct {
	// 默认处理模式
	Mode ProcessingMode `json:"mode"`

	// 本地Ollama配置
	Local ProviderConfig `json:"local"`

	// 云端配置，按提供商区分
	Cloud ProviderConfig `json:"cloud"`

	// 对话历史携带轮数
	HistoryTurns int `json:"history_turns"`

	// SQL不完整时的重试次数
	MaxRegenerations int `json:"max_regenerations"`
}

// DefaultLLMConfig 返回默认LLM配置
// SQL生成默认使用本地sqlcoder，云端默认使用groq的llama3-70b
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Mode: ModeHybrid,
		Local: ProviderConfig{
			Provider:    ProviderOllama,
			Model:       "sqlcoder:15b",
			BaseURL:     "http://localhost:11434",
			Temperature: 0.1,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Cloud: ProviderConfig{
			Provider:    ProviderGroq,
			Model:       "llama3-70b-8192",
			BaseURL:     GroqBaseURL,
			Temperature: 0.2,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
		},
		HistoryTurns:     4,
		MaxRegenerations: 1,
	}
}

// LoadLLMConfigFromEnv 从环境变量构建LLM配置
// 云端提供商按 LLM_CLOUD_PROVIDER 选择，密钥从对应环境变量读取
func LoadLLMConfigFromEnv() (*LLMConfig, error) {
	c := DefaultLLMConfig()

	if mode := getEnvString("LLM_MODE", ""); mode != "" {
		c.Mode = ProcessingMode(mode)
		if !c.Mode.IsValid() {
			return nil, fmt.Errorf("无效的处理模式: %s（可选: local-only/hybrid/cloud-only）", mode)
		}
	}

	c.Local.Model = getEnvString("OLLAMA_MODEL", c.Local.Model)
	c.Local.BaseURL = getEnvString("OLLAMA_HOST", c.Local.BaseURL)
	c.Local.Timeout = getEnvDuration("OLLAMA_TIMEOUT", c.Local.Timeout)

	provider := getEnvString("LLM_CLOUD_PROVIDER", c.Cloud.Provider)
	switch provider {
	case ProviderOpenAI:
		c.Cloud = ProviderConfig{
			Provider:    ProviderOpenAI,
			Model:       getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnvString("OPENAI_API_KEY", ""),
			Temperature: c.Cloud.Temperature,
			MaxTokens:   c.Cloud.MaxTokens,
			Timeout:     c.Cloud.Timeout,
		}
	case ProviderGroq:
		c.Cloud.APIKey = getEnvString("GROQ_API_KEY", "")
		c.Cloud.Model = getEnvString("GROQ_MODEL", c.Cloud.Model)
	default:
		return nil, fmt.Errorf("不支持的云端提供商: %s", provider)
	}

	c.HistoryTurns = getEnvInt("LLM_HISTORY_TURNS", c.HistoryTurns)

	// 纯本地模式不要求云端密钥
	if c.Mode != ModeLocalOnly {
		if err := c.Cloud.Validate(); err != nil {
			return nil, err
		}
	}
	if err := c.Local.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}
