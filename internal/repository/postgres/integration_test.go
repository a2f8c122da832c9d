package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// 集成测试使用testcontainers启动真实PostgreSQL，
// go test -short 时跳过
const testSchema = `
CREATE TABLE users (
	id BIGSERIAL PRIMARY KEY,
	username VARCHAR(50) NOT NULL UNIQUE,
	email VARCHAR(100) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	role VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	last_login_at TIMESTAMPTZ,
	create_by BIGINT,
	create_time TIMESTAMPTZ NOT NULL,
	update_by BIGINT,
	update_time TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE database_connections (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	name VARCHAR(100) NOT NULL,
	host VARCHAR(255) NOT NULL,
	port INTEGER NOT NULL,
	database_name VARCHAR(100) NOT NULL,
	username VARCHAR(100) NOT NULL,
	password_encrypted TEXT NOT NULL,
	db_type VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	last_tested TIMESTAMPTZ,
	create_by BIGINT,
	create_time TIMESTAMPTZ NOT NULL,
	update_by BIGINT,
	update_time TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE query_records (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	session_id VARCHAR(64) NOT NULL,
	question TEXT NOT NULL,
	generated_sql TEXT NOT NULL,
	sql_hash VARCHAR(64) NOT NULL,
	status VARCHAR(20) NOT NULL,
	error_message TEXT,
	execution_time INTEGER,
	result_rows INTEGER,
	processing_mode VARCHAR(20) NOT NULL,
	model_used VARCHAR(100) NOT NULL,
	connection_id BIGINT,
	create_by BIGINT,
	create_time TIMESTAMPTZ NOT NULL,
	update_by BIGINT,
	update_time TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE chat_messages (
	id BIGSERIAL PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	user_id BIGINT NOT NULL,
	role VARCHAR(20) NOT NULL,
	content TEXT NOT NULL,
	query_record_id BIGINT,
	create_by BIGINT,
	create_time TIMESTAMPTZ NOT NULL,
	update_by BIGINT,
	update_time TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE schema_metadata (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	schema_name VARCHAR(100) NOT NULL,
	table_name VARCHAR(100) NOT NULL,
	column_name VARCHAR(100) NOT NULL,
	data_type VARCHAR(100) NOT NULL,
	is_nullable BOOLEAN NOT NULL,
	column_default TEXT,
	is_primary_key BOOLEAN NOT NULL,
	is_foreign_key BOOLEAN NOT NULL,
	referenced_table VARCHAR(100),
	referenced_column VARCHAR(100),
	ordinal_position INTEGER NOT NULL,
	create_by BIGINT,
	create_time TIMESTAMPTZ NOT NULL,
	update_by BIGINT,
	update_time TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false
);
`

type RepositoryIntegrationTestSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	repo      repository.Repository
	ctx       context.Context
}

func TestRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过需要Docker的集成测试")
	}
	suite.Run(t, new(RepositoryIntegrationTestSuite))
}

func (s *RepositoryIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("sqlchat_test"),
		tcpostgres.WithUsername("sqlchat"),
		tcpostgres.WithPassword("sqlchat_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(s.ctx, connStr)
	s.Require().NoError(err)
	s.pool = pool

	_, err = pool.Exec(s.ctx, testSchema)
	s.Require().NoError(err)

	s.repo = NewRepository(pool, zap.NewNop())
}

func (s *RepositoryIntegrationTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RepositoryIntegrationTestSuite) TestUserLifecycle() {
	user := &repository.User{
		Username:     "it_alice",
		Email:        "it_alice@example.com",
		PasswordHash: "$2a$12$abcdefghijklmnopqrstuv",
		Role:         repository.RoleUser,
		Status:       repository.UserStatusActive,
	}

	s.Run("创建并按ID读取", func() {
		s.Require().NoError(s.repo.UserRepo().Create(s.ctx, user))
		s.Require().NotZero(user.ID)

		loaded, err := s.repo.UserRepo().GetByID(s.ctx, user.ID)
		s.Require().NoError(err)
		s.Equal("it_alice", loaded.Username)
		s.Equal(repository.RoleUser, loaded.Role)
	})

	s.Run("重复用户名返回ErrDuplicateEntry", func() {
		dup := &repository.User{
			Username:     "it_alice",
			Email:        "other@example.com",
			PasswordHash: "x",
			Role:         repository.RoleUser,
			Status:       repository.UserStatusActive,
		}
		err := s.repo.UserRepo().Create(s.ctx, dup)
		s.Require().Error(err)
		s.True(repository.IsDuplicateEntry(err))
	})

	s.Run("存在性检查", func() {
		exists, err := s.repo.UserRepo().ExistsByUsername(s.ctx, "it_alice")
		s.Require().NoError(err)
		s.True(exists)

		exists, err = s.repo.UserRepo().ExistsByEmail(s.ctx, "missing@example.com")
		s.Require().NoError(err)
		s.False(exists)
	})

	s.Run("更新最后登录时间", func() {
		s.Require().NoError(s.repo.UserRepo().UpdateLastLogin(s.ctx, user.ID, time.Now()))

		loaded, err := s.repo.UserRepo().GetByID(s.ctx, user.ID)
		s.Require().NoError(err)
		s.NotNil(loaded.LastLoginAt)
	})

	s.Run("软删除后不可见", func() {
		s.Require().NoError(s.repo.UserRepo().Delete(s.ctx, user.ID))

		_, err := s.repo.UserRepo().GetByID(s.ctx, user.ID)
		s.True(repository.IsNotFound(err))
	})
}

func (s *RepositoryIntegrationTestSuite) TestConnectionLifecycle() {
	conn := &repository.DatabaseConnection{
		UserID:            100,
		Name:              "it-db",
		Host:              "db.internal",
		Port:              5432,
		DatabaseName:      "analytics",
		Username:          "readonly",
		PasswordEncrypted: "ZW5jcnlwdGVk",
		DBType:            repository.DatabaseTypePostgreSQL,
		Status:            repository.ConnectionStatusActive,
	}

	s.Require().NoError(s.repo.ConnectionRepo().Create(s.ctx, conn))
	s.Require().NotZero(conn.ID)

	s.Run("按用户列出", func() {
		list, err := s.repo.ConnectionRepo().ListByUser(s.ctx, 100)
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal("it-db", list[0].Name)
	})

	s.Run("更新状态和测试时间", func() {
		testedAt := time.Now()
		s.Require().NoError(s.repo.ConnectionRepo().UpdateStatus(
			s.ctx, conn.ID, repository.ConnectionStatusError, testedAt))

		loaded, err := s.repo.ConnectionRepo().GetByID(s.ctx, conn.ID)
		s.Require().NoError(err)
		s.Equal(repository.ConnectionStatusError, loaded.Status)
		s.NotNil(loaded.LastTested)
	})
}

func (s *RepositoryIntegrationTestSuite) TestChatTurnPersistence() {
	sessionID := "it-session-1"

	record := &repository.QueryRecord{
		UserID:         200,
		SessionID:      sessionID,
		Question:       "有多少订单",
		GeneratedSQL:   "SELECT COUNT(*) FROM orders",
		SQLHash:        "0000000000000000000000000000000000000000000000000000000000000001",
		Status:         repository.QueryStatusSuccess,
		ProcessingMode: "hybrid",
		ModelUsed:      "qwen2.5-coder:7b",
	}
	s.Require().NoError(s.repo.QueryRecordRepo().Create(s.ctx, record))
	s.Require().NotZero(record.ID)

	userMsg := &repository.ChatMessage{
		SessionID: sessionID,
		UserID:    200,
		Role:      repository.MessageRoleUser,
		Content:   "有多少订单",
	}
	s.Require().NoError(s.repo.ChatMessageRepo().Create(s.ctx, userMsg))

	assistantMsg := &repository.ChatMessage{
		SessionID:     sessionID,
		UserID:        200,
		Role:          repository.MessageRoleAssistant,
		Content:       "共有42笔订单。",
		QueryRecordID: &record.ID,
	}
	s.Require().NoError(s.repo.ChatMessageRepo().Create(s.ctx, assistantMsg))

	s.Run("最近消息按时间正序", func() {
		messages, err := s.repo.ChatMessageRepo().ListRecentBySession(s.ctx, sessionID, 4)
		s.Require().NoError(err)
		s.Require().Len(messages, 2)
		s.Equal(repository.MessageRoleUser, messages[0].Role)
		s.Equal(repository.MessageRoleAssistant, messages[1].Role)
		s.Require().NotNil(messages[1].QueryRecordID)
		s.Equal(record.ID, *messages[1].QueryRecordID)
	})

	s.Run("会话出现在用户会话列表", func() {
		sessions, err := s.repo.ChatMessageRepo().ListSessionsByUser(s.ctx, 200, 10, 0)
		s.Require().NoError(err)
		s.Contains(sessions, sessionID)
	})

	s.Run("按状态统计查询", func() {
		count, err := s.repo.QueryRecordRepo().CountByStatus(s.ctx, 200, repository.QueryStatusSuccess)
		s.Require().NoError(err)
		s.Equal(int64(1), count)
	})
}

func (s *RepositoryIntegrationTestSuite) TestSchemaMetadataBatchUpsert() {
	ref := "orders"
	refCol := "id"
	idDefault := "nextval('orders_id_seq'::regclass)"
	metadata := []*repository.SchemaMetadata{
		{
			ConnectionID: 300, SchemaName: "public", TableName: "orders",
			ColumnName: "id", DataType: "bigint", ColumnDefault: &idDefault,
			IsPrimaryKey: true, OrdinalPosition: 1,
		},
		{
			ConnectionID: 300, SchemaName: "public", TableName: "order_items",
			ColumnName: "order_id", DataType: "bigint",
			IsForeignKey: true, ReferencedTable: &ref, ReferencedColumn: &refCol,
			OrdinalPosition: 1,
		},
	}
	s.Require().NoError(s.repo.SchemaRepo().BatchUpsert(s.ctx, metadata))

	s.Run("按连接读取", func() {
		loaded, err := s.repo.SchemaRepo().ListByConnection(s.ctx, 300)
		s.Require().NoError(err)
		s.Require().Len(loaded, 2)

		for _, m := range loaded {
			if m.TableName == "orders" {
				s.Require().NotNil(m.ColumnDefault)
				s.Equal(idDefault, *m.ColumnDefault)
			} else {
				s.Nil(m.ColumnDefault)
			}
		}
	})

	s.Run("再次写入替换旧数据", func() {
		s.Require().NoError(s.repo.SchemaRepo().BatchUpsert(s.ctx, metadata[:1]))

		loaded, err := s.repo.SchemaRepo().ListByConnection(s.ctx, 300)
		s.Require().NoError(err)
		s.Len(loaded, 1)
	})

	s.Run("表名列表去重", func() {
		tables, err := s.repo.SchemaRepo().ListTables(s.ctx, 300)
		s.Require().NoError(err)
		s.Equal([]string{"orders"}, tables)
	})
}

func (s *RepositoryIntegrationTestSuite) TestTransactionRollback() {
	tx, err := s.repo.BeginTx(s.ctx)
	s.Require().NoError(err)

	user := &repository.User{
		Username:     "it_txuser",
		Email:        "it_txuser@example.com",
		PasswordHash: "x",
		Role:         repository.RoleUser,
		Status:       repository.UserStatusActive,
	}
	s.Require().NoError(tx.UserRepo().Create(s.ctx, user))
	s.Require().NoError(tx.Rollback(s.ctx))

	exists, err := s.repo.UserRepo().ExistsByUsername(s.ctx, "it_txuser")
	s.Require().NoError(err)
	s.False(exists, "回滚后用户不应存在")
}

func (s *RepositoryIntegrationTestSuite) TestHealthCheck() {
	s.NoError(s.repo.HealthCheck(s.ctx))
}
