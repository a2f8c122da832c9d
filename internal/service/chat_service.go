// 对话服务
// 串联自然语言转SQL的完整链路：加载会话历史、路由模型、生成SQL、
// 安全校验、执行查询、按处理模式脱敏、生成自然语言答案并落库
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/llm"
	"sqlchat-go/internal/repository"
	"sqlchat-go/internal/security"
)

// ModeResolver 将处理模式解析为执行计划，*llm.Router是默认实现
type ModeResolver interface {
	CurrentMode() config.ProcessingMode
	Resolve(ctx context.Context, mode config.ProcessingMode) (*llm.StagePlan, error)
}

// QueryExecutor 在目标库上执行查询，*SQLExecutor是默认实现
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, sql string, connection *repository.DatabaseConnection) (*QueryResult, error)
}

// SchemaProvider 提供连接的Schema DDL文本，*SchemaCache是默认实现
type SchemaProvider interface {
	SchemaDDL(ctx context.Context, connectionID int64) (string, error)
}

// ChatService 自然语言查询对话服务
type ChatService struct {
	repo        repository.Repository
	router      ModeResolver
	prompts     *llm.PromptBuilder
	guard       *security.QueryGuard
	sanitizer   *security.DataSanitizer
	executor    QueryExecutor
	schemaCache SchemaProvider
	metrics     *ChatMetrics
	logger      *zap.Logger

	historyTurns     int
	maxRegenerations int
	maxResultChars   int
}

// ChatServiceConfig 对话服务配置
type ChatServiceConfig struct {
	HistoryTurns     int `json:"history_turns"`     // 默认4轮
	MaxRegenerations int `json:"max_regenerations"` // SQL截断时的重试次数，默认1
	MaxResultChars   int `json:"max_result_chars"`  // 进入答案提示词的结果上限，默认4000字符
}

// ChatRequest 对话请求
type ChatRequest struct {
	UserID       int64                 `json:"user_id"`
	SessionID    string                `json:"session_id"`
	ConnectionID int64                 `json:"connection_id"`
	Question     string                `json:"question"`
	Mode         config.ProcessingMode `json:"mode,omitempty"` // 为空时使用路由器当前模式
}

// ChatResponse 对话响应
type ChatResponse struct {
	SessionID      string                `json:"session_id"`
	Answer         string                `json:"answer"`
	SQL            string                `json:"sql,omitempty"`
	Result         *QueryResult          `json:"result,omitempty"`
	Mode           config.ProcessingMode `json:"mode"`
	Degraded       bool                  `json:"degraded"`
	Blocked        bool                  `json:"blocked"`
	BlockReason    string                `json:"block_reason,omitempty"`
	ModelUsed      string                `json:"model_used"`
	QueryRecordID  int64                 `json:"query_record_id,omitempty"`
	ProcessingTime int64                 `json:"processing_time_ms"`
}

// ChatMetrics 对话链路监控指标
type ChatMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BlockedTotal    *prometheus.CounterVec
	DegradedTotal   prometheus.Counter
}

// NewChatMetrics 创建并注册对话指标
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlchat",
				Name:      "chat_requests_total",
				Help:      "Total chat pipeline requests",
			},
			[]string{"mode", "provider", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sqlchat",
				Name:      "chat_request_duration_seconds",
				Help:      "Chat pipeline duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode", "provider"},
		),
		BlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlchat",
				Name:      "chat_blocked_queries_total",
				Help:      "Queries rejected by SQL validation",
			},
			[]string{"reason"},
		),
		DegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sqlchat",
				Name:      "chat_mode_degradations_total",
				Help:      "Requests served in a degraded processing mode",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.BlockedTotal, m.DegradedTotal)
	}
	return m
}

// NewChatService 创建对话服务
func NewChatService(
	repo repository.Repository,
	router ModeResolver,
	guard *security.QueryGuard,
	sanitizer *security.DataSanitizer,
	executor QueryExecutor,
	schemaCache SchemaProvider,
	metrics *ChatMetrics,
	serviceConfig *ChatServiceConfig,
	logger *zap.Logger,
) *ChatService {
	if serviceConfig == nil {
		serviceConfig = &ChatServiceConfig{}
	}
	if serviceConfig.HistoryTurns <= 0 {
		serviceConfig.HistoryTurns = 4
	}
	if serviceConfig.MaxRegenerations < 0 {
		serviceConfig.MaxRegenerations = 1
	}
	if serviceConfig.MaxResultChars <= 0 {
		serviceConfig.MaxResultChars = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatService{
		repo:             repo,
		router:           router,
		prompts:          llm.NewPromptBuilder(logger),
		guard:            guard,
		sanitizer:        sanitizer,
		executor:         executor,
		schemaCache:      schemaCache,
		metrics:          metrics,
		logger:           logger,
		historyTurns:     serviceConfig.HistoryTurns,
		maxRegenerations: serviceConfig.MaxRegenerations,
		maxResultChars:   serviceConfig.MaxResultChars,
	}
}

// Chat 处理一轮自然语言查询
func (cs *ChatService) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	connection, err := cs.repo.ConnectionRepo().GetByID(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("查询连接配置失败: %w", err)
	}
	if connection.UserID != req.UserID {
		return nil, repository.ErrPermissionDenied
	}

	mode := req.Mode
	if mode == "" {
		mode = cs.router.CurrentMode()
	}
	plan, err := cs.router.Resolve(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("没有可用的模型: %w", err)
	}
	if plan.Degraded {
		cs.logger.Warn("处理模式已降级",
			zap.String("requested_mode", string(mode)),
			zap.String("actual_mode", string(plan.Mode)))
		if cs.metrics != nil {
			cs.metrics.DegradedTotal.Inc()
		}
	}

	history, err := cs.repo.ChatMessageRepo().ListRecentBySession(ctx, req.SessionID, cs.historyTurns)
	if err != nil {
		cs.logger.Warn("加载会话历史失败", zap.String("session_id", req.SessionID), zap.Error(err))
		history = nil
	}

	schemaDDL, err := cs.schemaCache.SchemaDDL(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("获取数据库Schema失败: %w", err)
	}
	promptSchema := schemaDDL
	if plan.SanitizeSchema {
		promptSchema = cs.sanitizer.SanitizeSchema(schemaDDL)
	}
	answerSchema := promptSchema
	if plan.SanitizeAnswerSchema && !plan.SanitizeSchema {
		answerSchema = cs.sanitizer.SanitizeSchema(schemaDDL)
	}

	sql, err := cs.generateSQL(ctx, plan, promptSchema, req.Question, history)
	if err != nil {
		cs.observe(plan, "generation_error", start)
		return nil, err
	}

	response := &ChatResponse{
		SessionID: req.SessionID,
		SQL:       sql,
		Mode:      plan.Mode,
		Degraded:  plan.Degraded,
		ModelUsed: plan.SQLClient.Model(),
	}

	verdict := cs.guard.Validate(sql)
	if !verdict.Allowed {
		return cs.finishBlocked(ctx, req, plan, response, verdict, start)
	}

	result, execErr := cs.executor.ExecuteQuery(ctx, sql, connection)
	response.Result = result

	resultsText := result.RowsAsJSON(cs.maxResultChars)
	if execErr != nil {
		resultsText = fmt.Sprintf("The query failed to execute. Error: %s", result.Error)
	}
	if plan.SanitizeResults {
		resultsText = cs.sanitizer.SanitizeResults(resultsText)
		result.Rows = cs.sanitizer.SanitizeRows(result.Rows)
	}

	answer, err := cs.generateAnswer(ctx, plan, answerSchema, req.Question, sql, resultsText, history)
	if err != nil {
		cs.observe(plan, "answer_error", start)
		return nil, fmt.Errorf("生成答案失败: %w", err)
	}
	response.Answer = answer
	response.ProcessingTime = time.Since(start).Milliseconds()

	status := repository.QueryStatusSuccess
	var errMessage *string
	if execErr != nil {
		status = repository.QueryStatusFailed
		msg := result.Error
		errMessage = &msg
	}
	record := cs.persistTurn(ctx, req, response, status, errMessage, result)
	if record != nil {
		response.QueryRecordID = record.ID
	}

	cs.observe(plan, string(status), start)
	return response, nil
}

// History 返回会话内的消息，时间正序
func (cs *ChatService) History(ctx context.Context, userID int64, sessionID string, limit int) ([]*repository.ChatMessage, error) {
	messages, err := cs.repo.ChatMessageRepo().ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if m.UserID != userID {
			return nil, repository.ErrPermissionDenied
		}
	}
	return messages, nil
}

// Sessions 返回用户的会话列表，按最近活跃排序
func (cs *ChatService) Sessions(ctx context.Context, userID int64, limit, offset int) ([]string, error) {
	return cs.repo.ChatMessageRepo().ListSessionsByUser(ctx, userID, limit, offset)
}

// generateSQL 生成并解析SQL，截断输出允许按预算重试
func (cs *ChatService) generateSQL(ctx context.Context, plan *llm.StagePlan, schema, question string, history []*repository.ChatMessage) (string, error) {
	prompt, err := cs.prompts.BuildSQLPrompt(schema, question, history)
	if err != nil {
		return "", fmt.Errorf("构建SQL提示词失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= cs.maxRegenerations; attempt++ {
		raw, err := plan.SQLClient.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("SQL生成失败: %w", err)
		}

		sql, err := llm.ExtractSQL(raw)
		if err == nil {
			return sql, nil
		}
		lastErr = err

		if !errors.Is(err, llm.ErrIncompleteSQL) {
			break
		}
		cs.logger.Warn("模型输出的SQL不完整，重新生成",
			zap.Int("attempt", attempt+1),
			zap.String("model", plan.SQLClient.Model()))
	}

	return "", fmt.Errorf("无法从模型输出提取有效SQL: %w", lastErr)
}

func (cs *ChatService) generateAnswer(ctx context.Context, plan *llm.StagePlan, schema, question, sql, results string, history []*repository.ChatMessage) (string, error) {
	prompt, err := cs.prompts.BuildAnswerPrompt(schema, question, sql, results, history)
	if err != nil {
		return "", fmt.Errorf("构建答案提示词失败: %w", err)
	}
	return plan.AnswerClient.Generate(ctx, prompt)
}

// finishBlocked 处理被安全校验拒绝的查询
// 拒绝也是一次完整的对话轮次：落库记录并给用户明确的拒绝答复
func (cs *ChatService) finishBlocked(
	ctx context.Context,
	req *ChatRequest,
	plan *llm.StagePlan,
	response *ChatResponse,
	verdict *security.GuardResult,
	start time.Time,
) (*ChatResponse, error) {
	response.Blocked = true
	response.BlockReason = verdict.Reason
	response.Answer = fmt.Sprintf("这个查询无法执行：%s。请换一种只读的提问方式。", verdict.Reason)
	response.ProcessingTime = time.Since(start).Milliseconds()

	cs.logger.Warn("查询被安全校验拒绝",
		zap.Int64("user_id", req.UserID),
		zap.String("session_id", req.SessionID),
		zap.String("sql", response.SQL),
		zap.String("reason", verdict.Reason),
		zap.String("matched_keyword", verdict.MatchedKeyword))

	if cs.metrics != nil {
		cs.metrics.BlockedTotal.WithLabelValues(verdict.Reason).Inc()
	}

	reason := verdict.Reason
	record := cs.persistTurn(ctx, req, response, repository.QueryStatusBlocked, &reason, nil)
	if record != nil {
		response.QueryRecordID = record.ID
	}

	cs.observe(plan, string(repository.QueryStatusBlocked), start)
	return response, nil
}

// persistTurn 落库查询记录和对话消息
// 持久化失败只记日志，不影响已经生成的答复
func (cs *ChatService) persistTurn(
	ctx context.Context,
	req *ChatRequest,
	response *ChatResponse,
	status repository.QueryStatus,
	errMessage *string,
	result *QueryResult,
) *repository.QueryRecord {
	record := &repository.QueryRecord{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		Question:       req.Question,
		GeneratedSQL:   response.SQL,
		SQLHash:        hashSQL(response.SQL),
		Status:         status,
		ErrorMessage:   errMessage,
		ProcessingMode: string(response.Mode),
		ModelUsed:      response.ModelUsed,
		ConnectionID:   &req.ConnectionID,
	}
	if result != nil {
		executionTime := result.ExecutionTime
		rowCount := result.RowCount
		record.ExecutionTime = &executionTime
		record.ResultRows = &rowCount
	}

	if err := cs.repo.QueryRecordRepo().Create(ctx, record); err != nil {
		cs.logger.Error("保存查询记录失败",
			zap.String("session_id", req.SessionID), zap.Error(err))
		record = nil
	}

	userMessage := &repository.ChatMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      repository.MessageRoleUser,
		Content:   req.Question,
	}
	assistantMessage := &repository.ChatMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      repository.MessageRoleAssistant,
		Content:   response.Answer,
	}
	if record != nil {
		userMessage.QueryRecordID = &record.ID
		assistantMessage.QueryRecordID = &record.ID
	}

	for _, message := range []*repository.ChatMessage{userMessage, assistantMessage} {
		if err := cs.repo.ChatMessageRepo().Create(ctx, message); err != nil {
			cs.logger.Error("保存对话消息失败",
				zap.String("session_id", req.SessionID),
				zap.String("role", string(message.Role)),
				zap.Error(err))
		}
	}

	return record
}

func (cs *ChatService) observe(plan *llm.StagePlan, status string, start time.Time) {
	if cs.metrics == nil {
		return
	}
	mode := string(plan.Mode)
	provider := plan.SQLClient.Provider()
	cs.metrics.RequestsTotal.WithLabelValues(mode, provider, status).Inc()
	cs.metrics.RequestDuration.WithLabelValues(mode, provider).Observe(time.Since(start).Seconds())
}

func validateChatRequest(req *ChatRequest) error {
	if req == nil {
		return fmt.Errorf("%w: 请求不能为空", repository.ErrInvalidInput)
	}
	if req.UserID <= 0 {
		return fmt.Errorf("%w: 缺少用户ID", repository.ErrInvalidInput)
	}
	if req.ConnectionID <= 0 {
		return fmt.Errorf("%w: 缺少数据库连接ID", repository.ErrInvalidInput)
	}
	if req.Question == "" {
		return fmt.Errorf("%w: 问题不能为空", repository.ErrInvalidInput)
	}
	if req.Mode != "" && !req.Mode.IsValid() {
		return fmt.Errorf("%w: 无效的处理模式 %s", repository.ErrInvalidInput, req.Mode)
	}
	return nil
}

// hashSQL 计算SQL的SHA-256摘要，用于重复查询统计
func hashSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
