package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
)

// newTestRouter 构建无云端密钥的纯本地路由器
// registry为nil，本地可用性检查恒为false，用于覆盖降级分支
func newTestRouter(t *testing.T, mode config.ProcessingMode, withCloud bool) *Router {
	t.Helper()

	cfg := config.DefaultLLMConfig()
	cfg.Mode = mode
	if withCloud {
		cfg.Cloud.APIKey = "test-key"
	} else {
		cfg.Cloud.APIKey = ""
		cfg.Mode = config.ModeLocalOnly
		if mode != "" {
			cfg.Mode = mode
		}
	}

	router, err := NewRouter(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	return router
}

// TestNewRouter_RequiresCloudKey 测试非本地模式必须配置云端密钥
func TestNewRouter_RequiresCloudKey(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	cfg.Mode = config.ModeHybrid
	cfg.Cloud.APIKey = ""

	_, err := NewRouter(cfg, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API密钥")
}

// TestRouter_SetMode 测试模式切换校验
func TestRouter_SetMode(t *testing.T) {
	router := newTestRouter(t, config.ModeLocalOnly, false)

	t.Run("无效模式", func(t *testing.T) {
		err := router.SetMode("turbo")
		require.Error(t, err)
	})

	t.Run("无云端密钥时拒绝云端模式", func(t *testing.T) {
		err := router.SetMode(config.ModeCloudOnly)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API密钥")
	})

	t.Run("本地模式切换成功", func(t *testing.T) {
		require.NoError(t, router.SetMode(config.ModeLocalOnly))
		assert.Equal(t, config.ModeLocalOnly, router.CurrentMode())
	})
}

// TestRouter_Resolve_Degradation 测试模式降级
func TestRouter_Resolve_Degradation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("本地不可用时hybrid降级到cloud-only", func(t *testing.T) {
		router := newTestRouter(t, config.ModeHybrid, true)

		plan, err := router.Resolve(ctx, config.ModeHybrid)
		require.NoError(t, err)

		assert.Equal(t, config.ModeCloudOnly, plan.Mode)
		assert.True(t, plan.Degraded)
		assert.True(t, plan.SanitizeSchema, "云端模式必须脱敏Schema")
		assert.True(t, plan.SanitizeAnswerSchema)
		assert.True(t, plan.SanitizeResults)
		assert.NotEqual(t, config.ProviderOllama, plan.SQLClient.Provider())
	})

	t.Run("本地和云端都不可用时报错", func(t *testing.T) {
		router := newTestRouter(t, config.ModeLocalOnly, false)

		_, err := router.Resolve(ctx, config.ModeLocalOnly)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLocalUnavailable)
	})

	t.Run("本地可用时hybrid按阶段分配脱敏", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"models":[]}`))
		}))
		defer server.Close()

		registry, err := NewLocalRegistry(server.URL, NewCatalog(), zap.NewNop())
		require.NoError(t, err)

		cfg := config.DefaultLLMConfig()
		cfg.Mode = config.ModeHybrid
		cfg.Cloud.APIKey = "test-key"
		router, err := NewRouter(cfg, registry, zap.NewNop())
		require.NoError(t, err)

		plan, err := router.Resolve(ctx, config.ModeHybrid)
		require.NoError(t, err)

		assert.Equal(t, config.ModeHybrid, plan.Mode)
		assert.False(t, plan.Degraded)
		assert.Equal(t, config.ProviderOllama, plan.SQLClient.Provider())
		assert.NotEqual(t, config.ProviderOllama, plan.AnswerClient.Provider())
		assert.False(t, plan.SanitizeSchema, "SQL生成留在本地，可见原始Schema")
		assert.True(t, plan.SanitizeAnswerSchema, "答案阶段上云，Schema必须脱敏")
		assert.True(t, plan.SanitizeResults)
	})

	t.Run("cloud-only不受本地状态影响", func(t *testing.T) {
		router := newTestRouter(t, config.ModeCloudOnly, true)

		plan, err := router.Resolve(ctx, config.ModeCloudOnly)
		require.NoError(t, err)

		assert.Equal(t, config.ModeCloudOnly, plan.Mode)
		assert.False(t, plan.Degraded)
	})
}
