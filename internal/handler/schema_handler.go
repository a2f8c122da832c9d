// 内置示例Schema的演示接口
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sqlchat-go/internal/schema"
)

// SchemaHandler 示例Schema处理器
// 提供未配置数据库连接时的演示数据
type SchemaHandler struct{}

// NewSchemaHandler 创建示例Schema处理器
func NewSchemaHandler() *SchemaHandler {
	return &SchemaHandler{}
}

// GetSampleDiagram 获取内置电商示例Schema的关系图
// @Summary 示例Schema关系图
// @Tags Schema
// @Produce json
// @Param format query string false "mermaid或markdown，默认mermaid"
// @Success 200 {object} SchemaDiagramResponse "关系图"
// @Router /api/v1/schema/sample [get]
func (h *SchemaHandler) GetSampleDiagram(c *gin.Context) {
	format := c.DefaultQuery("format", "mermaid")
	if format != "mermaid" && format != "markdown" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("INVALID_FORMAT", "format仅支持mermaid或markdown"))
		return
	}

	diagram := schema.SampleDiagram()
	var content string
	if format == "markdown" {
		content = diagram.Markdown()
	} else {
		content = diagram.Mermaid()
	}

	c.JSON(http.StatusOK, &SchemaDiagramResponse{
		Format:  format,
		Content: content,
	})
}

// GetSampleQuestions 获取示例Schema配套的分类问题列表
// @Summary 示例问题列表
// @Tags Schema
// @Produce json
// @Success 200 {object} map[string]any "分类问题"
// @Router /api/v1/schema/sample/questions [get]
func (h *SchemaHandler) GetSampleQuestions(c *gin.Context) {
	categories := schema.SampleQuestions()
	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
		"total":      len(categories),
	})
}
