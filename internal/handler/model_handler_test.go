package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/llm"
)

// fakeModelRouter 模型路由替身，目录使用真实的内置目录
type fakeModelRouter struct {
	catalog    *llm.Catalog
	mode       config.ProcessingMode
	setModeErr error
}

func (f *fakeModelRouter) Catalog() *llm.Catalog              { return f.catalog }
func (f *fakeModelRouter) Registry() *llm.LocalRegistry       { return nil }
func (f *fakeModelRouter) CurrentMode() config.ProcessingMode { return f.mode }

func (f *fakeModelRouter) SetMode(mode config.ProcessingMode) error {
	if f.setModeErr != nil {
		return f.setModeErr
	}
	f.mode = mode
	return nil
}

func newModelTestRouter(fake *fakeModelRouter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewModelHandler(fake, zap.NewNop())

	r := gin.New()
	r.GET("/models", h.ListModels)
	r.GET("/models/local", h.ListLocalModels)
	r.GET("/models/mode", h.GetMode)
	r.PUT("/models/mode", h.SetMode)
	return r
}

// TestModelHandler_ListModels 测试模型目录接口
func TestModelHandler_ListModels(t *testing.T) {
	fake := &fakeModelRouter{catalog: llm.NewCatalog(), mode: config.ModeHybrid}
	r := newModelTestRouter(fake)

	t.Run("返回全部内置模型", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp ModelListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Greater(t, resp.Total, 0)
	})

	t.Run("按提供商过滤", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models?provider=ollama", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp ModelListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, m := range resp.Models {
			assert.Equal(t, "ollama", m.Provider)
		}
	})
}

// TestModelHandler_Mode 测试处理模式查询和切换
func TestModelHandler_Mode(t *testing.T) {
	fake := &fakeModelRouter{catalog: llm.NewCatalog(), mode: config.ModeHybrid}
	r := newModelTestRouter(fake)

	t.Run("查询当前模式", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/mode", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "hybrid")
	})

	t.Run("切换到本地模式", func(t *testing.T) {
		body, _ := json.Marshal(SetModeRequest{Mode: "local-only"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/models/mode", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, config.ModeLocalOnly, fake.mode)
	})

	t.Run("非法模式被参数校验拦截", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/models/mode", bytes.NewReader([]byte(`{"mode":"turbo"}`)))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("云端未配置时切换失败", func(t *testing.T) {
		fake.setModeErr = errors.New("未配置云端API密钥")

		body, _ := json.Marshal(SetModeRequest{Mode: "cloud-only"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/models/mode", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MODE_SWITCH_FAILED")
	})
}

// TestModelHandler_ListLocalModels 测试注册表缺失时的降级响应
func TestModelHandler_ListLocalModels(t *testing.T) {
	fake := &fakeModelRouter{catalog: llm.NewCatalog(), mode: config.ModeLocalOnly}
	r := newModelTestRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/local", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "LOCAL_REGISTRY_UNAVAILABLE")
}
