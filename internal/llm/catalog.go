// 模型目录 - 各提供商可用模型的静态元数据
// 成本和速度档位用于前端展示和模式降级时的模型选择

package llm

import (
	"fmt"
	"sort"
	"strings"

	"sqlchat-go/internal/config"
)

// CostTier 成本档位
type CostTier string

const (
	CostFree   CostTier = "free"
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// SpeedTier 速度档位
type SpeedTier string

const (
	SpeedFast   SpeedTier = "fast"
	SpeedMedium SpeedTier = "medium"
	SpeedSlow   SpeedTier = "slow"
)

// ModelInfo 单个模型的元数据
type ModelInfo struct {
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Cost        CostTier  `json:"cost"`
	Speed       SpeedTier `json:"speed"`
	Recommended bool      `json:"recommended"`
}

// IsLocal 判断模型是否本地运行
func (m *ModelInfo) IsLocal() bool {
	return m.Provider == config.ProviderOllama
}

// Catalog 模型目录
type Catalog struct {
	models map[string]*ModelInfo
}

// NewCatalog 创建内置模型目录
func NewCatalog() *Catalog {
	c := &Catalog{models: make(map[string]*ModelInfo)}

	for _, m := range builtinModels() {
		c.models[m.Name] = m
	}

	return c
}

// builtinModels 内置模型清单
func builtinModels() []*ModelInfo {
	return []*ModelInfo{
		// 本地Ollama模型
		{
			Name: "sqlcoder:15b", Provider: config.ProviderOllama,
			DisplayName: "SQLCoder 15B",
			Description: "SQL生成专用模型，文本转SQL准确率最高",
			Cost:        CostFree, Speed: SpeedMedium, Recommended: true,
		},
		{
			Name: "deepseek-coder:33b", Provider: config.ProviderOllama,
			DisplayName: "DeepSeek Coder 33B",
			Description: "大参数代码模型，复杂查询表现好但速度慢",
			Cost:        CostFree, Speed: SpeedSlow,
		},
		{
			Name: "codellama:13b-instruct", Provider: config.ProviderOllama,
			DisplayName: "Code Llama 13B Instruct",
			Description: "代码指令模型，SQL生成质量稳定",
			Cost:        CostFree, Speed: SpeedMedium, Recommended: true,
		},
		{
			Name: "llama3", Provider: config.ProviderOllama,
			DisplayName: "Llama 3 8B",
			Description: "通用模型，适合答案生成阶段",
			Cost:        CostFree, Speed: SpeedFast,
		},

		// Groq云端模型
		{
			Name: "mixtral-8x7b-32768", Provider: config.ProviderGroq,
			DisplayName: "Mixtral 8x7B",
			Description: "32K上下文，适合大Schema场景",
			Cost:        CostLow, Speed: SpeedFast,
		},
		{
			Name: "llama3-70b-8192", Provider: config.ProviderGroq,
			DisplayName: "Llama 3 70B",
			Description: "Groq推理速度极快，综合能力强",
			Cost:        CostLow, Speed: SpeedFast, Recommended: true,
		},
		{
			Name: "gemma2-9b-it", Provider: config.ProviderGroq,
			DisplayName: "Gemma 2 9B",
			Description: "轻量指令模型，简单查询够用",
			Cost:        CostLow, Speed: SpeedFast,
		},

		// OpenAI云端模型
		{
			Name: "gpt-4o-mini", Provider: config.ProviderOpenAI,
			DisplayName: "GPT-4o mini",
			Description: "性价比首选，SQL生成与解释均衡",
			Cost:        CostLow, Speed: SpeedFast, Recommended: true,
		},
		{
			Name: "gpt-4o", Provider: config.ProviderOpenAI,
			DisplayName: "GPT-4o",
			Description: "旗舰模型，复杂多表查询最可靠",
			Cost:        CostHigh, Speed: SpeedMedium,
		},
		{
			Name: "gpt-3.5-turbo", Provider: config.ProviderOpenAI,
			DisplayName: "GPT-3.5 Turbo",
			Description: "旧一代模型，简单场景的低成本选择",
			Cost:        CostLow, Speed: SpeedFast,
		},
	}
}

// Get 按名称查找模型，未知模型返回错误并列出已知模型
func (c *Catalog) Get(name string) (*ModelInfo, error) {
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("未知模型 %q，可用模型: %s", name, strings.Join(c.Names(), ", "))
}

// Names 返回全部模型名称，字典序
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 返回全部模型元数据，按提供商和名称排序
func (c *Catalog) List() []*ModelInfo {
	models := make([]*ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Name < models[j].Name
	})
	return models
}

// ListByProvider 返回指定提供商的模型
func (c *Catalog) ListByProvider(provider string) []*ModelInfo {
	var models []*ModelInfo
	for _, m := range c.List() {
		if m.Provider == provider {
			models = append(models, m)
		}
	}
	return models
}

// Recommended 返回推荐模型列表
func (c *Catalog) Recommended() []*ModelInfo {
	var models []*ModelInfo
	for _, m := range c.List() {
		if m.Recommended {
			models = append(models, m)
		}
	}
	return models
}
