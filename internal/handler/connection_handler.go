package handler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sqlchat-go/internal/middleware"
	"sqlchat-go/internal/repository"
	"sqlchat-go/internal/schema"
	"sqlchat-go/internal/service"
)

// ConnectionManagerInterface 连接管理器接口
type ConnectionManagerInterface interface {
	CreateConnection(ctx context.Context, connection *repository.DatabaseConnection) error
	UpdateConnection(ctx context.Context, connection *repository.DatabaseConnection, newPassword string) error
	DeleteConnection(ctx context.Context, connectionID int64) error
	TestConnection(ctx context.Context, connection *repository.DatabaseConnection) error
}

// ConnectionHandler 数据库连接处理器
// 处理数据库连接的创建、管理、测试和结构查看
type ConnectionHandler struct {
	connectionRepo    repository.ConnectionRepository
	schemaRepo        repository.SchemaRepository
	connectionManager ConnectionManagerInterface
	introspector      *service.SchemaIntrospector
	schemaCache       *service.SchemaCache
	logger            *zap.Logger
}

// NewConnectionHandler 创建连接处理器实例
func NewConnectionHandler(
	connectionRepo repository.ConnectionRepository,
	schemaRepo repository.SchemaRepository,
	connectionManager ConnectionManagerInterface,
	introspector *service.SchemaIntrospector,
	schemaCache *service.SchemaCache,
	logger *zap.Logger,
) *ConnectionHandler {
	return &ConnectionHandler{
		connectionRepo:    connectionRepo,
		schemaRepo:        schemaRepo,
		connectionManager: connectionManager,
		introspector:      introspector,
		schemaCache:       schemaCache,
		logger:            logger,
	}
}

// CreateConnectionRequest 创建连接请求结构
type CreateConnectionRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=100" example:"生产数据库"`
	Host         string `json:"host" binding:"required" example:"localhost"`
	Port         int32  `json:"port" binding:"required,min=1,max=65535" example:"5432"`
	DatabaseName string `json:"database_name" binding:"required,min=1,max=100" example:"production_db"`
	Username     string `json:"username" binding:"required,min=1,max=100" example:"db_user"`
	Password     string `json:"password" binding:"required,min=1,max=255" example:"secure_password"`
	DBType       string `json:"db_type" binding:"required,oneof=postgresql" example:"postgresql"`
}

// UpdateConnectionRequest 更新连接请求结构，零值字段不更新
type UpdateConnectionRequest struct {
	Name         string `json:"name" binding:"omitempty,min=1,max=100"`
	Host         string `json:"host" binding:"omitempty"`
	Port         int32  `json:"port" binding:"omitempty,min=1,max=65535"`
	DatabaseName string `json:"database_name" binding:"omitempty,min=1,max=100"`
	Username     string `json:"username" binding:"omitempty,min=1,max=100"`
	Password     string `json:"password" binding:"omitempty,min=1,max=255"`
}

// ConnectionResponse 连接响应结构，不含密码
type ConnectionResponse struct {
	ID           int64      `json:"id" example:"1"`
	Name         string     `json:"name" example:"生产数据库"`
	Host         string     `json:"host" example:"localhost"`
	Port         int32      `json:"port" example:"5432"`
	DatabaseName string     `json:"database_name" example:"production_db"`
	Username     string     `json:"username" example:"db_user"`
	DBType       string     `json:"db_type" example:"postgresql"`
	Status       string     `json:"status" example:"active"`
	LastTested   *time.Time `json:"last_tested,omitempty"`
	CreateTime   time.Time  `json:"create_time"`
	UpdateTime   time.Time  `json:"update_time"`
}

// ConnectionListResponse 连接列表响应
type ConnectionListResponse struct {
	Connections []*ConnectionResponse `json:"connections"`
	Total       int                   `json:"total" example:"3"`
}

// ConnectionTestResult 连接测试结果结构
type ConnectionTestResult struct {
	Success      bool   `json:"success" example:"true"`
	Message      string `json:"message" example:"连接测试成功"`
	ResponseTime int64  `json:"response_time_ms" example:"25"`
	Error        string `json:"error,omitempty"`
}

// TableSchemaInfo 单表结构信息
type TableSchemaInfo struct {
	TableName string                       `json:"table_name" example:"orders"`
	Columns   []*repository.SchemaMetadata `json:"columns"`
}

// ConnectionSchemaResponse 连接结构响应
type ConnectionSchemaResponse struct {
	ConnectionID int64              `json:"connection_id" example:"1"`
	Tables       []*TableSchemaInfo `json:"tables"`
	TableCount   int                `json:"table_count" example:"15"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// SchemaDiagramResponse 结构关系图响应
type SchemaDiagramResponse struct {
	ConnectionID int64  `json:"connection_id" example:"1"`
	Format       string `json:"format" example:"mermaid"`
	Content      string `json:"content"`
}

// CreateConnection 创建数据库连接
// @Summary 创建数据库连接
// @Description 测试连通性后加密保存连接配置
// @Tags 数据库连接
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateConnectionRequest true "连接配置"
// @Success 201 {object} ConnectionResponse "创建成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/connections [post]
func (h *ConnectionHandler) CreateConnection(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	// 密码以明文传入，由ConnectionManager测试后加密落库
	connection := &repository.DatabaseConnection{
		UserID:            userID,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		DatabaseName:      req.DatabaseName,
		Username:          req.Username,
		PasswordEncrypted: req.Password,
		DBType:            repository.DatabaseType(req.DBType),
	}

	if err := h.connectionManager.CreateConnection(c.Request.Context(), connection); err != nil {
		h.logger.Error("Failed to create connection",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("host", req.Host),
			zap.String("database", req.DatabaseName))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "CREATE_CONNECTION_FAILED",
			Message: fmt.Sprintf("创建连接失败: %v", err),
		})
		return
	}

	h.logger.Info("Database connection created",
		zap.Int64("user_id", userID),
		zap.Int64("connection_id", connection.ID),
		zap.String("name", connection.Name))

	c.JSON(http.StatusCreated, toConnectionResponse(connection))
}

// ListConnections 获取当前用户的连接列表
// @Summary 连接列表
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ConnectionListResponse "连接列表"
// @Router /api/v1/connections [get]
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return
	}

	connections, err := h.connectionRepo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list connections",
			zap.Error(err),
			zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return
	}

	responses := make([]*ConnectionResponse, 0, len(connections))
	for _, conn := range connections {
		responses = append(responses, toConnectionResponse(conn))
	}
	c.JSON(http.StatusOK, &ConnectionListResponse{
		Connections: responses,
		Total:       len(responses),
	})
}

// GetConnection 获取单个连接详情
// @Summary 连接详情
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Success 200 {object} ConnectionResponse "连接详情"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id} [get]
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toConnectionResponse(connection))
}

// UpdateConnection 更新连接配置
// @Summary 更新连接
// @Tags 数据库连接
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Param request body UpdateConnectionRequest true "更新字段"
// @Success 200 {object} ConnectionResponse "更新后的连接"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id} [put]
func (h *ConnectionHandler) UpdateConnection(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}

	var req UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
			Details: err.Error(),
		})
		return
	}

	if req.Name != "" {
		connection.Name = req.Name
	}
	if req.Host != "" {
		connection.Host = req.Host
	}
	if req.Port != 0 {
		connection.Port = req.Port
	}
	if req.DatabaseName != "" {
		connection.DatabaseName = req.DatabaseName
	}
	if req.Username != "" {
		connection.Username = req.Username
	}
	// 密码为空时保留原密文，非空时由ConnectionManager重新加密
	if err := h.connectionManager.UpdateConnection(c.Request.Context(), connection, req.Password); err != nil {
		h.logger.Error("Failed to update connection",
			zap.Error(err),
			zap.Int64("connection_id", connection.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("UPDATE_CONNECTION_FAILED", "更新连接失败"))
		return
	}

	if h.schemaCache != nil {
		h.schemaCache.Invalidate(c.Request.Context(), connection.ID)
	}

	c.JSON(http.StatusOK, toConnectionResponse(connection))
}

// DeleteConnection 删除连接
// @Summary 删除连接
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Success 200 {object} SuccessResponse "删除成功"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id} [delete]
func (h *ConnectionHandler) DeleteConnection(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}

	if err := h.connectionManager.DeleteConnection(c.Request.Context(), connection.ID); err != nil {
		h.logger.Error("Failed to delete connection",
			zap.Error(err),
			zap.Int64("connection_id", connection.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DELETE_CONNECTION_FAILED", "删除连接失败"))
		return
	}

	if h.schemaCache != nil {
		h.schemaCache.Invalidate(c.Request.Context(), connection.ID)
	}

	h.logger.Info("Database connection deleted",
		zap.Int64("connection_id", connection.ID),
		zap.Int64("user_id", connection.UserID))
	c.JSON(http.StatusOK, NewSuccessResponse("CONNECTION_DELETED", "连接已删除"))
}

// TestConnection 测试已保存的连接
// @Summary 测试连接
// @Description 使用保存的加密凭据执行连通性测试
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Success 200 {object} ConnectionTestResult "测试结果"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id}/test [post]
func (h *ConnectionHandler) TestConnection(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}

	start := time.Now()
	err := h.connectionManager.TestConnection(c.Request.Context(), connection)
	elapsed := time.Since(start).Milliseconds()

	result := &ConnectionTestResult{
		Success:      err == nil,
		ResponseTime: elapsed,
	}
	if err != nil {
		result.Message = "连接测试失败"
		result.Error = err.Error()
	} else {
		result.Message = "连接测试成功"
	}

	c.JSON(http.StatusOK, result)
}

// GetSchema 获取连接的表结构
// @Summary 表结构
// @Description 返回按表组织的列元数据，必要时触发实时采集
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Param refresh query bool false "为true时强制重新采集"
// @Success 200 {object} ConnectionSchemaResponse "表结构"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id}/schema [get]
func (h *ConnectionHandler) GetSchema(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}

	metadata, err := h.loadMetadata(c, connection.ID, c.Query("refresh") == "true")
	if err != nil {
		h.logger.Error("Failed to load schema metadata",
			zap.Error(err),
			zap.Int64("connection_id", connection.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("SCHEMA_LOAD_FAILED", "表结构获取失败"))
		return
	}

	c.JSON(http.StatusOK, &ConnectionSchemaResponse{
		ConnectionID: connection.ID,
		Tables:       organizeByTable(metadata),
		TableCount:   countTables(metadata),
		LastUpdated:  time.Now(),
	})
}

// GetDiagram 获取连接的Schema关系图
// @Summary 结构关系图
// @Description 将表结构渲染为mermaid erDiagram或markdown文档
// @Tags 数据库连接
// @Produce json
// @Security BearerAuth
// @Param id path int true "连接ID"
// @Param format query string false "mermaid或markdown，默认mermaid"
// @Success 200 {object} SchemaDiagramResponse "关系图"
// @Failure 400 {object} ErrorResponse "格式无效"
// @Failure 404 {object} ErrorResponse "连接不存在"
// @Router /api/v1/connections/{id}/diagram [get]
func (h *ConnectionHandler) GetDiagram(c *gin.Context) {
	connection, ok := h.loadOwnedConnection(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", "mermaid")
	if format != "mermaid" && format != "markdown" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("INVALID_FORMAT", "format仅支持mermaid或markdown"))
		return
	}

	metadata, err := h.loadMetadata(c, connection.ID, false)
	if err != nil {
		h.logger.Error("Failed to load schema metadata for diagram",
			zap.Error(err),
			zap.Int64("connection_id", connection.ID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("SCHEMA_LOAD_FAILED", "表结构获取失败"))
		return
	}

	diagram := schema.FromMetadata(connection.Name, metadata)
	var content string
	if format == "markdown" {
		content = diagram.Markdown()
	} else {
		content = diagram.Mermaid()
	}

	c.JSON(http.StatusOK, &SchemaDiagramResponse{
		ConnectionID: connection.ID,
		Format:       format,
		Content:      content,
	})
}

// loadMetadata 优先读取已存的元数据，为空或要求刷新时实时采集
func (h *ConnectionHandler) loadMetadata(c *gin.Context, connectionID int64, refresh bool) ([]*repository.SchemaMetadata, error) {
	if !refresh {
		metadata, err := h.schemaRepo.ListByConnection(c.Request.Context(), connectionID)
		if err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			return metadata, nil
		}
	}

	if h.introspector == nil {
		return nil, fmt.Errorf("结构采集器未初始化")
	}
	metadata, err := h.introspector.RefreshMetadata(c.Request.Context(), connectionID)
	if err != nil {
		return nil, err
	}
	if h.schemaCache != nil {
		h.schemaCache.Invalidate(c.Request.Context(), connectionID)
	}
	return metadata, nil
}

// loadOwnedConnection 解析路径中的连接ID并校验归属
func (h *ConnectionHandler) loadOwnedConnection(c *gin.Context) (*repository.DatabaseConnection, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("UNAUTHORIZED", "未授权访问"))
		return nil, false
	}

	connectionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || connectionID <= 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("INVALID_CONNECTION_ID", "连接ID无效"))
		return nil, false
	}

	connection, err := h.connectionRepo.GetByID(c.Request.Context(), connectionID)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, NewErrorResponse("CONNECTION_NOT_FOUND", "连接不存在"))
			return nil, false
		}
		h.logger.Error("Failed to load connection",
			zap.Error(err),
			zap.Int64("connection_id", connectionID))
		c.JSON(http.StatusInternalServerError, NewErrorResponse("DATABASE_ERROR", "数据库查询失败"))
		return nil, false
	}

	if connection.UserID != userID {
		// 对越权访问统一返回404，不暴露资源存在性
		c.JSON(http.StatusNotFound, NewErrorResponse("CONNECTION_NOT_FOUND", "连接不存在"))
		return nil, false
	}

	return connection, true
}

func toConnectionResponse(connection *repository.DatabaseConnection) *ConnectionResponse {
	return &ConnectionResponse{
		ID:           connection.ID,
		Name:         connection.Name,
		Host:         connection.Host,
		Port:         connection.Port,
		DatabaseName: connection.DatabaseName,
		Username:     connection.Username,
		DBType:       string(connection.DBType),
		Status:       string(connection.Status),
		LastTested:   connection.LastTested,
		CreateTime:   connection.CreateTime,
		UpdateTime:   connection.UpdateTime,
	}
}

// organizeByTable 将列元数据按表分组，表名和列序号排序
func organizeByTable(metadata []*repository.SchemaMetadata) []*TableSchemaInfo {
	grouped := make(map[string][]*repository.SchemaMetadata)
	for _, m := range metadata {
		grouped[m.TableName] = append(grouped[m.TableName], m)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]*TableSchemaInfo, 0, len(names))
	for _, name := range names {
		columns := grouped[name]
		sort.Slice(columns, func(i, j int) bool {
			return columns[i].OrdinalPosition < columns[j].OrdinalPosition
		})
		tables = append(tables, &TableSchemaInfo{TableName: name, Columns: columns})
	}
	return tables
}

func countTables(metadata []*repository.SchemaMetadata) int {
	seen := make(map[string]struct{})
	for _, m := range metadata {
		seen[m.TableName] = struct{}{}
	}
	return len(seen)
}
