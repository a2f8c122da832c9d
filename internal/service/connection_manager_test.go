package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// stubConnectionRepo 内存连接配置Repository
type stubConnectionRepo struct {
	connections map[int64]*repository.DatabaseConnection
	updated     *repository.DatabaseConnection
}

func newStubConnectionRepo() *stubConnectionRepo {
	return &stubConnectionRepo{connections: make(map[int64]*repository.DatabaseConnection)}
}

func (s *stubConnectionRepo) Create(_ context.Context, conn *repository.DatabaseConnection) error {
	conn.ID = int64(len(s.connections) + 1)
	s.connections[conn.ID] = conn
	return nil
}

func (s *stubConnectionRepo) GetByID(_ context.Context, id int64) (*repository.DatabaseConnection, error) {
	conn, ok := s.connections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return conn, nil
}

func (s *stubConnectionRepo) Update(_ context.Context, conn *repository.DatabaseConnection) error {
	copied := *conn
	s.updated = &copied
	s.connections[conn.ID] = conn
	return nil
}

func (s *stubConnectionRepo) Delete(_ context.Context, id int64) error {
	delete(s.connections, id)
	return nil
}

func (s *stubConnectionRepo) ListByUser(_ context.Context, userID int64) ([]*repository.DatabaseConnection, error) {
	var result []*repository.DatabaseConnection
	for _, conn := range s.connections {
		if conn.UserID == userID {
			result = append(result, conn)
		}
	}
	return result, nil
}

func (s *stubConnectionRepo) UpdateStatus(_ context.Context, id int64, status repository.ConnectionStatus, testedAt time.Time) error {
	if conn, ok := s.connections[id]; ok {
		conn.Status = status
		conn.LastTested = &testedAt
	}
	return nil
}

func newTestConnectionManager(t *testing.T, repo repository.ConnectionRepository) *ConnectionManager {
	t.Helper()

	cm, err := NewConnectionManager(repo, []byte("unit-test-encryption-key-32bytes"), zap.NewNop())
	require.NoError(t, err)
	return cm
}

// TestConnectionManager_UpdateConnection 测试更新时的密码处理
// 不换密码的更新必须保留已存储的密文，否则后续解密全部失败
func TestConnectionManager_UpdateConnection(t *testing.T) {
	ctx := context.Background()
	repo := newStubConnectionRepo()
	cm := newTestConnectionManager(t, repo)

	connection := &repository.DatabaseConnection{
		UserID:            7,
		Name:              "订单库",
		Host:              "db.internal",
		Port:              5432,
		DatabaseName:      "orders",
		Username:          "reader",
		PasswordEncrypted: "stored-ciphertext",
		DBType:            repository.DatabaseTypePostgreSQL,
		Status:            repository.ConnectionStatusActive,
	}
	require.NoError(t, repo.Create(ctx, connection))

	t.Run("不提供新密码时保留原密文", func(t *testing.T) {
		connection.Name = "订单库-renamed"
		require.NoError(t, cm.UpdateConnection(ctx, connection, ""))

		require.NotNil(t, repo.updated)
		assert.Equal(t, "stored-ciphertext", repo.updated.PasswordEncrypted)
		assert.Equal(t, "订单库-renamed", repo.updated.Name)
	})

	t.Run("提供新密码时重新加密", func(t *testing.T) {
		require.NoError(t, cm.UpdateConnection(ctx, connection, "new-secret"))

		require.NotNil(t, repo.updated)
		assert.NotEqual(t, "stored-ciphertext", repo.updated.PasswordEncrypted)
		assert.NotEqual(t, "new-secret", repo.updated.PasswordEncrypted, "明文不允许落库")

		plain, err := cm.cipher.Decrypt(repo.updated.PasswordEncrypted)
		require.NoError(t, err)
		assert.Equal(t, "new-secret", plain)
	})
}

// TestConnectionManager_PoolCount 测试连接池计数
func TestConnectionManager_PoolCount(t *testing.T) {
	cm := newTestConnectionManager(t, newStubConnectionRepo())

	assert.Zero(t, cm.PoolCount())

	stats := cm.PoolStats()
	assert.Equal(t, cm.PoolCount(), stats["total_pools"], "计数与统计口径一致")
}
