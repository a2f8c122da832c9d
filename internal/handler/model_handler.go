// 模型目录与处理模式HTTP处理器
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/llm"
)

// ModelRouterInterface 模型路由接口定义
type ModelRouterInterface interface {
	Catalog() *llm.Catalog
	Registry() *llm.LocalRegistry
	CurrentMode() config.ProcessingMode
	SetMode(mode config.ProcessingMode) error
}

// ModelHandler 模型管理处理器
type ModelHandler struct {
	router ModelRouterInterface
	logger *zap.Logger
}

// NewModelHandler 创建模型处理器实例
func NewModelHandler(router ModelRouterInterface, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{
		router: router,
		logger: logger,
	}
}

// ModelListResponse 模型目录响应
type ModelListResponse struct {
	Models []*llm.ModelInfo `json:"models"`
	Total  int              `json:"total"`
}

// LocalModelListResponse 本地已安装模型响应
type LocalModelListResponse struct {
	Models []*llm.InstalledModel `json:"models"`
	Total  int                   `json:"total"`
}

// ProcessingModeResponse 处理模式响应
type ProcessingModeResponse struct {
	Mode      string `json:"mode" example:"hybrid"`
	Timestamp string `json:"timestamp" example:"2024-01-08T12:00:00Z"`
}

// SetModeRequest 处理模式切换请求
type SetModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=local-only hybrid cloud-only" example:"local-only"`
}

// ListModels 获取内置模型目录
// @Summary 模型目录
// @Description 返回所有内置支持的本地和云端模型及其元信息
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ModelListResponse "模型目录"
// @Router /api/v1/models [get]
func (h *ModelHandler) ListModels(c *gin.Context) {
	provider := c.Query("provider")

	var models []*llm.ModelInfo
	if provider != "" {
		models = h.router.Catalog().ListByProvider(provider)
	} else {
		models = h.router.Catalog().List()
	}

	c.JSON(http.StatusOK, &ModelListResponse{
		Models: models,
		Total:  len(models),
	})
}

// ListLocalModels 获取本地Ollama已安装的模型
// @Summary 本地模型列表
// @Description 查询本地Ollama服务中已安装的模型
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Success 200 {object} LocalModelListResponse "已安装模型"
// @Failure 503 {object} ErrorResponse "Ollama服务不可达"
// @Router /api/v1/models/local [get]
func (h *ModelHandler) ListLocalModels(c *gin.Context) {
	registry := h.router.Registry()
	if registry == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("LOCAL_REGISTRY_UNAVAILABLE", "本地模型注册表未初始化"))
		return
	}

	models, err := registry.ListInstalled(c.Request.Context())
	if err != nil {
		h.logger.Warn("failed to list local models", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("OLLAMA_UNAVAILABLE", "Ollama服务不可达，请确认本地服务已启动"))
		return
	}

	c.JSON(http.StatusOK, &LocalModelListResponse{
		Models: models,
		Total:  len(models),
	})
}

// GetMode 获取当前处理模式
// @Summary 当前处理模式
// @Tags 模型
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProcessingModeResponse "当前模式"
// @Router /api/v1/models/mode [get]
func (h *ModelHandler) GetMode(c *gin.Context) {
	c.JSON(http.StatusOK, &ProcessingModeResponse{
		Mode:      string(h.router.CurrentMode()),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// SetMode 切换处理模式
// @Summary 切换处理模式
// @Description 在local-only/hybrid/cloud-only之间切换默认处理模式
// @Tags 模型
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SetModeRequest true "目标模式"
// @Success 200 {object} ProcessingModeResponse "切换后的模式"
// @Failure 400 {object} ErrorResponse "模式无效或云端未配置"
// @Router /api/v1/models/mode [put]
func (h *ModelHandler) SetMode(c *gin.Context) {
	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.router.SetMode(config.ProcessingMode(req.Mode)); err != nil {
		h.logger.Warn("failed to switch processing mode",
			zap.String("mode", req.Mode),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "MODE_SWITCH_FAILED",
			Message: "处理模式切换失败",
			Details: err.Error(),
		})
		return
	}

	h.logger.Info("processing mode switched", zap.String("mode", req.Mode))
	c.JSON(http.StatusOK, &ProcessingModeResponse{
		Mode:      req.Mode,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
