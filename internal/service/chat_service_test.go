package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
	"sqlchat-go/internal/llm"
	"sqlchat-go/internal/repository"
	"sqlchat-go/internal/security"
)

// TestValidateChatRequest 测试对话请求校验
func TestValidateChatRequest(t *testing.T) {
	valid := func() *ChatRequest {
		return &ChatRequest{
			UserID:       1,
			ConnectionID: 2,
			Question:     "how many orders?",
		}
	}

	t.Run("合法请求", func(t *testing.T) {
		assert.NoError(t, validateChatRequest(valid()))
	})

	t.Run("nil请求", func(t *testing.T) {
		err := validateChatRequest(nil)
		assert.ErrorIs(t, err, repository.ErrInvalidInput)
	})

	t.Run("缺少用户ID", func(t *testing.T) {
		req := valid()
		req.UserID = 0
		assert.ErrorIs(t, validateChatRequest(req), repository.ErrInvalidInput)
	})

	t.Run("缺少连接ID", func(t *testing.T) {
		req := valid()
		req.ConnectionID = 0
		assert.ErrorIs(t, validateChatRequest(req), repository.ErrInvalidInput)
	})

	t.Run("空问题", func(t *testing.T) {
		req := valid()
		req.Question = ""
		assert.ErrorIs(t, validateChatRequest(req), repository.ErrInvalidInput)
	})

	t.Run("无效处理模式", func(t *testing.T) {
		req := valid()
		req.Mode = "turbo"
		assert.ErrorIs(t, validateChatRequest(req), repository.ErrInvalidInput)
	})

	t.Run("合法处理模式", func(t *testing.T) {
		req := valid()
		req.Mode = config.ModeHybrid
		assert.NoError(t, validateChatRequest(req))
	})
}

// TestHashSQL 测试SQL摘要稳定性
func TestHashSQL(t *testing.T) {
	first := hashSQL("SELECT 1;")
	second := hashSQL("SELECT 1;")
	other := hashSQL("SELECT 2;")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, first, 64)
}

// TestNewChatMetrics 测试指标注册不重复panic
func TestNewChatMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		m := NewChatMetrics(nil)
		assert.NotNil(t, m.RequestsTotal)
		assert.NotNil(t, m.BlockedTotal)
	})
}

// stubChatMessageRepo 内存对话消息Repository
type stubChatMessageRepo struct {
	messages []*repository.ChatMessage
}

func (s *stubChatMessageRepo) Create(_ context.Context, message *repository.ChatMessage) error {
	message.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, message)
	return nil
}

func (s *stubChatMessageRepo) ListBySession(_ context.Context, sessionID string, _ int) ([]*repository.ChatMessage, error) {
	var result []*repository.ChatMessage
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *stubChatMessageRepo) ListRecentBySession(ctx context.Context, sessionID string, turns int) ([]*repository.ChatMessage, error) {
	return s.ListBySession(ctx, sessionID, turns)
}

func (s *stubChatMessageRepo) ListSessionsByUser(_ context.Context, userID int64, _, _ int) ([]string, error) {
	seen := make(map[string]bool)
	var sessions []string
	for _, m := range s.messages {
		if m.UserID == userID && !seen[m.SessionID] {
			seen[m.SessionID] = true
			sessions = append(sessions, m.SessionID)
		}
	}
	return sessions, nil
}

func (s *stubChatMessageRepo) DeleteBySession(_ context.Context, sessionID string) error {
	var kept []*repository.ChatMessage
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

// stubQueryRecordRepo 内存查询记录Repository
type stubQueryRecordRepo struct {
	records []*repository.QueryRecord
}

func (s *stubQueryRecordRepo) Create(_ context.Context, record *repository.QueryRecord) error {
	record.ID = int64(len(s.records) + 1)
	s.records = append(s.records, record)
	return nil
}

func (s *stubQueryRecordRepo) GetByID(_ context.Context, id int64) (*repository.QueryRecord, error) {
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubQueryRecordRepo) Update(_ context.Context, record *repository.QueryRecord) error {
	for i, r := range s.records {
		if r.ID == record.ID {
			s.records[i] = record
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *stubQueryRecordRepo) ListByUser(_ context.Context, userID int64, _, _ int) ([]*repository.QueryRecord, error) {
	var result []*repository.QueryRecord
	for _, r := range s.records {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *stubQueryRecordRepo) ListBySession(_ context.Context, sessionID string, _ int) ([]*repository.QueryRecord, error) {
	var result []*repository.QueryRecord
	for _, r := range s.records {
		if r.SessionID == sessionID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *stubQueryRecordRepo) ListRecentSuccessful(_ context.Context, userID int64, _ int) ([]*repository.QueryRecord, error) {
	var result []*repository.QueryRecord
	for _, r := range s.records {
		if r.UserID == userID && r.Status == repository.QueryStatusSuccess {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *stubQueryRecordRepo) CountByStatus(_ context.Context, userID int64, status repository.QueryStatus) (int64, error) {
	var count int64
	for _, r := range s.records {
		if r.UserID == userID && r.Status == status {
			count++
		}
	}
	return count, nil
}

// stubRepository 对话链路测试用的聚合Repository
// 用户和Schema子仓在链路中不会被触达，保持nil
type stubRepository struct {
	connections *stubConnectionRepo
	messages    *stubChatMessageRepo
	records     *stubQueryRecordRepo
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		connections: newStubConnectionRepo(),
		messages:    &stubChatMessageRepo{},
		records:     &stubQueryRecordRepo{},
	}
}

func (s *stubRepository) UserRepo() repository.UserRepository               { return nil }
func (s *stubRepository) ChatMessageRepo() repository.ChatMessageRepository { return s.messages }
func (s *stubRepository) QueryRecordRepo() repository.QueryRecordRepository { return s.records }
func (s *stubRepository) ConnectionRepo() repository.ConnectionRepository   { return s.connections }
func (s *stubRepository) SchemaRepo() repository.SchemaRepository           { return nil }

func (s *stubRepository) BeginTx(_ context.Context) (repository.TxRepository, error) {
	return nil, repository.ErrInvalidInput
}
func (s *stubRepository) HealthCheck(_ context.Context) error { return nil }
func (s *stubRepository) Close() error                        { return nil }

// stubGenerator 记录提示词并返回固定输出的阶段客户端
type stubGenerator struct {
	provider string
	model    string
	output   string
	err      error
	prompts  []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.output, g.err
}

func (g *stubGenerator) Provider() string { return g.provider }
func (g *stubGenerator) Model() string    { return g.model }

// stubResolver 返回预置执行计划的模式路由
type stubResolver struct {
	plan *llm.StagePlan
}

func (r *stubResolver) CurrentMode() config.ProcessingMode { return r.plan.Mode }

func (r *stubResolver) Resolve(_ context.Context, _ config.ProcessingMode) (*llm.StagePlan, error) {
	return r.plan, nil
}

// stubExecutor 记录收到的SQL并返回预置结果
type stubExecutor struct {
	result *QueryResult
	err    error
	sqls   []string
}

func (e *stubExecutor) ExecuteQuery(_ context.Context, sql string, _ *repository.DatabaseConnection) (*QueryResult, error) {
	e.sqls = append(e.sqls, sql)
	return e.result, e.err
}

// stubSchemaSource 返回固定DDL的Schema来源
type stubSchemaSource struct {
	ddl string
}

func (s *stubSchemaSource) SchemaDDL(_ context.Context, _ int64) (string, error) {
	return s.ddl, nil
}

// chatPipelineEnv 对话链路测试环境
type chatPipelineEnv struct {
	repo      *stubRepository
	executor  *stubExecutor
	sqlGen    *stubGenerator
	answerGen *stubGenerator
	service   *ChatService
}

const pipelineSchemaDDL = `CREATE TABLE orders (
  id BIGINT,
  product_name TEXT,
  total NUMERIC
);
CREATE TABLE customers (
  id BIGINT,
  ssn TEXT
);`

// newChatPipelineEnv 搭建带桩件的对话服务
// 守卫和脱敏器使用真实实现，模型、执行器和存储全部打桩
func newChatPipelineEnv(t *testing.T, plan *llm.StagePlan, executor *stubExecutor) *chatPipelineEnv {
	t.Helper()

	repo := newStubRepository()
	require.NoError(t, repo.connections.Create(context.Background(), &repository.DatabaseConnection{
		UserID:       7,
		Name:         "订单库",
		Host:         "db.internal",
		Port:         5432,
		DatabaseName: "shop",
		DBType:       repository.DatabaseTypePostgreSQL,
		Status:       repository.ConnectionStatusActive,
	}))

	service := NewChatService(
		repo,
		&stubResolver{plan: plan},
		security.NewQueryGuard(nil, zap.NewNop()),
		security.NewDataSanitizer(nil, zap.NewNop()),
		executor,
		&stubSchemaSource{ddl: pipelineSchemaDDL},
		nil,
		nil,
		zap.NewNop(),
	)

	return &chatPipelineEnv{
		repo:      repo,
		executor:  executor,
		sqlGen:    plan.SQLClient.(*stubGenerator),
		answerGen: plan.AnswerClient.(*stubGenerator),
		service:   service,
	}
}

func successResult() *QueryResult {
	return &QueryResult{
		Columns:       []string{"product_name", "contact"},
		Rows:          []map[string]any{{"product_name": "widget", "contact": "alice@example.com"}},
		RowCount:      1,
		ExecutionTime: 12,
		QueryType:     "SELECT",
		Status:        string(repository.QueryStatusSuccess),
	}
}

// TestChatService_Chat_LocalOnly 测试纯本地模式的完整链路
// 数据不出本机，Schema和结果都不脱敏，一轮对话落库一条记录和两条消息
func TestChatService_Chat_LocalOnly(t *testing.T) {
	sqlGen := &stubGenerator{provider: "ollama", model: "sqlcoder", output: "SELECT COUNT(*) FROM orders"}
	answerGen := &stubGenerator{provider: "ollama", model: "llama3.1", output: "一共有42笔订单。"}
	plan := &llm.StagePlan{SQLClient: sqlGen, AnswerClient: answerGen, Mode: config.ModeLocalOnly}
	env := newChatPipelineEnv(t, plan, &stubExecutor{result: successResult()})

	response, err := env.service.Chat(context.Background(), &ChatRequest{
		UserID:       7,
		ConnectionID: 1,
		Question:     "how many orders are there?",
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM orders;", response.SQL)
	assert.Equal(t, "一共有42笔订单。", response.Answer)
	assert.Equal(t, config.ModeLocalOnly, response.Mode)
	assert.Equal(t, "sqlcoder", response.ModelUsed)
	assert.False(t, response.Blocked)
	assert.NotEmpty(t, response.SessionID)

	t.Run("本地提示词可见原始Schema和结果", func(t *testing.T) {
		require.Len(t, env.sqlGen.prompts, 1)
		assert.Contains(t, env.sqlGen.prompts[0], "CREATE TABLE customers")
		assert.Contains(t, env.sqlGen.prompts[0], "ssn")

		require.Len(t, env.answerGen.prompts, 1)
		assert.Contains(t, env.answerGen.prompts[0], "alice@example.com")
	})

	t.Run("落库一条成功记录", func(t *testing.T) {
		require.Len(t, env.repo.records.records, 1)
		record := env.repo.records.records[0]
		assert.Equal(t, repository.QueryStatusSuccess, record.Status)
		assert.Equal(t, "SELECT COUNT(*) FROM orders;", record.GeneratedSQL)
		assert.Equal(t, hashSQL(record.GeneratedSQL), record.SQLHash)
		assert.Equal(t, record.ID, response.QueryRecordID)
		require.NotNil(t, record.ResultRows)
		assert.Equal(t, int32(1), *record.ResultRows)
	})

	t.Run("落库用户和助手两条消息", func(t *testing.T) {
		require.Len(t, env.repo.messages.messages, 2)
		assert.Equal(t, repository.MessageRoleUser, env.repo.messages.messages[0].Role)
		assert.Equal(t, repository.MessageRoleAssistant, env.repo.messages.messages[1].Role)
		require.NotNil(t, env.repo.messages.messages[1].QueryRecordID)
		assert.Equal(t, response.QueryRecordID, *env.repo.messages.messages[1].QueryRecordID)
	})
}

// TestChatService_Chat_HybridSanitizesCloudPrompt 测试混合模式的分阶段脱敏
// SQL生成留在本地可见原始Schema，送云端的答案提示词不得出现敏感表、列和值
func TestChatService_Chat_HybridSanitizesCloudPrompt(t *testing.T) {
	sqlGen := &stubGenerator{provider: "ollama", model: "sqlcoder", output: "SELECT product_name FROM orders LIMIT 5"}
	answerGen := &stubGenerator{provider: "groq", model: "llama-3.1-70b", output: "最热销的商品是widget。"}
	plan := &llm.StagePlan{
		SQLClient:            sqlGen,
		AnswerClient:         answerGen,
		Mode:                 config.ModeHybrid,
		SanitizeAnswerSchema: true,
		SanitizeResults:      true,
	}
	env := newChatPipelineEnv(t, plan, &stubExecutor{result: successResult()})

	response, err := env.service.Chat(context.Background(), &ChatRequest{
		UserID:       7,
		ConnectionID: 1,
		Question:     "what are the top products?",
	})
	require.NoError(t, err)
	require.Equal(t, "最热销的商品是widget。", response.Answer)

	t.Run("SQL阶段可见原始Schema", func(t *testing.T) {
		require.Len(t, env.sqlGen.prompts, 1)
		assert.Contains(t, env.sqlGen.prompts[0], "CREATE TABLE customers")
		assert.Contains(t, env.sqlGen.prompts[0], "ssn")
	})

	t.Run("云端答案提示词已脱敏", func(t *testing.T) {
		require.Len(t, env.answerGen.prompts, 1)
		prompt := env.answerGen.prompts[0]
		assert.NotContains(t, prompt, "customers")
		assert.NotContains(t, prompt, "ssn")
		assert.Contains(t, prompt, security.RedactedColumn)
		assert.NotContains(t, prompt, "alice@example.com")
		assert.Contains(t, prompt, security.RedactedValue)
	})

	t.Run("响应中的结果行同步脱敏", func(t *testing.T) {
		require.NotNil(t, response.Result)
		require.Len(t, response.Result.Rows, 1)
		assert.Equal(t, security.RedactedValue, response.Result.Rows[0]["contact"])
	})
}

// TestChatService_Chat_BlockedQuery 测试被安全校验拒绝的查询
// 拒绝不触发执行，但仍作为完整轮次落库
func TestChatService_Chat_BlockedQuery(t *testing.T) {
	sqlGen := &stubGenerator{provider: "ollama", model: "sqlcoder", output: "DROP TABLE orders"}
	answerGen := &stubGenerator{provider: "ollama", model: "llama3.1", output: "unused"}
	plan := &llm.StagePlan{SQLClient: sqlGen, AnswerClient: answerGen, Mode: config.ModeLocalOnly}
	executor := &stubExecutor{result: successResult()}
	env := newChatPipelineEnv(t, plan, executor)

	response, err := env.service.Chat(context.Background(), &ChatRequest{
		UserID:       7,
		ConnectionID: 1,
		Question:     "drop the orders table",
	})
	require.NoError(t, err)

	assert.True(t, response.Blocked)
	assert.NotEmpty(t, response.BlockReason)
	assert.Contains(t, response.Answer, "无法执行")

	assert.Empty(t, executor.sqls, "被拦截的SQL不允许到达执行器")
	assert.Empty(t, env.answerGen.prompts, "拒绝答复不经过模型")

	require.Len(t, env.repo.records.records, 1)
	record := env.repo.records.records[0]
	assert.Equal(t, repository.QueryStatusBlocked, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Equal(t, response.BlockReason, *record.ErrorMessage)
	assert.Len(t, env.repo.messages.messages, 2)
}

// TestChatService_Chat_ExecutionError 测试执行失败后的解释链路
// 执行报错不中断对话，错误信息进入答案提示词并落库为失败记录
func TestChatService_Chat_ExecutionError(t *testing.T) {
	sqlGen := &stubGenerator{provider: "ollama", model: "sqlcoder", output: "SELECT total FROM orders"}
	answerGen := &stubGenerator{provider: "ollama", model: "llama3.1", output: "查询失败了，表不存在。"}
	plan := &llm.StagePlan{SQLClient: sqlGen, AnswerClient: answerGen, Mode: config.ModeLocalOnly}
	executor := &stubExecutor{
		result: &QueryResult{
			QueryType:     "SELECT",
			Status:        string(repository.QueryStatusFailed),
			Error:         "数据库错误 [42P01]: relation \"orders\" does not exist",
			ExecutionTime: 3,
		},
		err: context.DeadlineExceeded,
	}
	env := newChatPipelineEnv(t, plan, executor)

	response, err := env.service.Chat(context.Background(), &ChatRequest{
		UserID:       7,
		ConnectionID: 1,
		Question:     "total sales?",
	})
	require.NoError(t, err)

	assert.Equal(t, "查询失败了，表不存在。", response.Answer)

	require.Len(t, env.answerGen.prompts, 1)
	assert.Contains(t, env.answerGen.prompts[0], "The query failed to execute")
	assert.Contains(t, env.answerGen.prompts[0], "42P01")

	require.Len(t, env.repo.records.records, 1)
	record := env.repo.records.records[0]
	assert.Equal(t, repository.QueryStatusFailed, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "42P01")
}

// TestChatService_Chat_RejectsForeignConnection 测试连接归属校验
func TestChatService_Chat_RejectsForeignConnection(t *testing.T) {
	sqlGen := &stubGenerator{provider: "ollama", model: "sqlcoder", output: "SELECT 1 FROM orders"}
	answerGen := &stubGenerator{provider: "ollama", model: "llama3.1", output: "unused"}
	plan := &llm.StagePlan{SQLClient: sqlGen, AnswerClient: answerGen, Mode: config.ModeLocalOnly}
	env := newChatPipelineEnv(t, plan, &stubExecutor{result: successResult()})

	_, err := env.service.Chat(context.Background(), &ChatRequest{
		UserID:       99,
		ConnectionID: 1,
		Question:     "how many orders?",
	})
	assert.ErrorIs(t, err, repository.ErrPermissionDenied)
	assert.Empty(t, env.sqlGen.prompts)
}
