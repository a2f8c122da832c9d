// 本地模型注册表 - 通过Ollama API发现已安装的模型
// 对应命令行的ollama list，用于模型选择界面和可用性判断

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollamaapi "github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// InstalledModel 本地已安装的模型
type InstalledModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`

	// 在内置目录中的元数据，未收录的模型为nil
	Info *ModelInfo `json:"info,omitempty"`
}

// LocalRegistry 本地Ollama模型注册表
type LocalRegistry struct {
	client  *ollamaapi.Client
	catalog *Catalog
	logger  *zap.Logger
}

// NewLocalRegistry 创建本地模型注册表，baseURL形如 http://localhost:11434
func NewLocalRegistry(baseURL string, catalog *Catalog, logger *zap.Logger) (*LocalRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("无效的Ollama地址 %q: %w", baseURL, err)
	}

	return &LocalRegistry{
		client:  ollamaapi.NewClient(parsed, &http.Client{Timeout: 15 * time.Second}),
		catalog: catalog,
		logger:  logger,
	}, nil
}

// ListInstalled 列出本地已安装的模型
func (r *LocalRegistry) ListInstalled(ctx context.Context) ([]*InstalledModel, error) {
	resp, err := r.client.List(ctx)
	if err != nil {
		r.logger.Warn("获取本地模型列表失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLocalUnavailable, err)
	}

	models := make([]*InstalledModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		installed := &InstalledModel{
			Name:       m.Name,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		}
		if info, err := r.catalog.Get(m.Name); err == nil {
			installed.Info = info
		}
		models = append(models, installed)
	}

	r.logger.Debug("本地模型列表获取成功", zap.Int("count", len(models)))
	return models, nil
}

// Recommended 返回已安装且在推荐清单中的模型
func (r *LocalRegistry) Recommended(ctx context.Context) ([]*InstalledModel, error) {
	installed, err := r.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}

	var recommended []*InstalledModel
	for _, m := range installed {
		if m.Info != nil && m.Info.Recommended {
			recommended = append(recommended, m)
		}
	}
	return recommended, nil
}

// HasModel 判断指定模型是否已安装
func (r *LocalRegistry) HasModel(ctx context.Context, name string) (bool, error) {
	installed, err := r.ListInstalled(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range installed {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Available 判断本地Ollama服务是否可达
func (r *LocalRegistry) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.client.List(checkCtx)
	return err == nil
}
