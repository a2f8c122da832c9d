// 目标数据库连接管理器
// 维护用户配置的外部数据库连接，密码经AES-GCM加密落库，
// 连接池按connection_id缓存复用，并由后台例程做健康检查和空闲回收
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// ConnectionManager 目标数据库连接管理器
type ConnectionManager struct {
	connectionRepo repository.ConnectionRepository
	cipher         *PasswordCipher
	logger         *zap.Logger

	// key: connectionID, value: *managedPool
	pools sync.Map

	maxPoolsPerUser     int
	poolIdleTimeout     time.Duration
	connectTimeout      time.Duration
	healthCheckInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// managedPool 带使用追踪的连接池
type managedPool struct {
	pool       *pgxpool.Pool
	connection *repository.DatabaseConnection
	createdAt  time.Time

	mu        sync.RWMutex
	lastUsed  time.Time
	healthy   bool
	lastError string
}

// ConnectionManagerConfig 连接管理器配置
type ConnectionManagerConfig struct {
	EncryptionKey       []byte        `json:"-"`
	MaxPoolsPerUser     int           `json:"max_pools_per_user"`
	PoolIdleTimeout     time.Duration `json:"pool_idle_timeout"`
	ConnectTimeout      time.Duration `json:"connect_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

// NewConnectionManager 使用默认配置创建连接管理器
func NewConnectionManager(
	connectionRepo repository.ConnectionRepository,
	encryptionKey []byte,
	logger *zap.Logger,
) (*ConnectionManager, error) {
	return NewConnectionManagerWithConfig(connectionRepo, &ConnectionManagerConfig{
		EncryptionKey: encryptionKey,
	}, logger)
}

// NewConnectionManagerWithConfig 使用自定义配置创建连接管理器
func NewConnectionManagerWithConfig(
	connectionRepo repository.ConnectionRepository,
	config *ConnectionManagerConfig,
	logger *zap.Logger,
) (*ConnectionManager, error) {
	if config == nil || len(config.EncryptionKey) == 0 {
		return nil, errors.New("加密密钥不能为空")
	}
	if config.MaxPoolsPerUser <= 0 {
		config.MaxPoolsPerUser = 10
	}
	if config.PoolIdleTimeout <= 0 {
		config.PoolIdleTimeout = 30 * time.Minute
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 5 * time.Minute
	}

	cipher, err := NewPasswordCipher(config.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("初始化加密服务失败: %w", err)
	}

	return &ConnectionManager{
		connectionRepo:      connectionRepo,
		cipher:              cipher,
		logger:              logger,
		maxPoolsPerUser:     config.MaxPoolsPerUser,
		poolIdleTimeout:     config.PoolIdleTimeout,
		connectTimeout:      config.ConnectTimeout,
		healthCheckInterval: config.HealthCheckInterval,
		stopCh:              make(chan struct{}),
	}, nil
}

// Start 启动后台健康检查和空闲池清理例程
func (cm *ConnectionManager) Start() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return errors.New("连接管理器已在运行")
	}
	cm.running = true

	go cm.healthCheckLoop()
	go cm.cleanupLoop()

	cm.logger.Info("连接管理器已启动",
		zap.Duration("health_check_interval", cm.healthCheckInterval),
		zap.Duration("pool_idle_timeout", cm.poolIdleTimeout))
	return nil
}

// Stop 停止后台例程并关闭所有连接池
func (cm *ConnectionManager) Stop() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return nil
	}
	cm.running = false
	close(cm.stopCh)

	cm.pools.Range(func(key, value any) bool {
		value.(*managedPool).pool.Close()
		cm.pools.Delete(key)
		return true
	})

	cm.logger.Info("连接管理器已停止")
	return nil
}

// GetConnectionPool 获取指定连接的池，必要时新建并缓存
func (cm *ConnectionManager) GetConnectionPool(ctx context.Context, connectionID int64) (*pgxpool.Pool, error) {
	if value, ok := cm.pools.Load(connectionID); ok {
		mp := value.(*managedPool)
		mp.touch()
		return mp.pool, nil
	}

	connection, err := cm.connectionRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("查询连接配置失败: %w", err)
	}
	if connection.Status == repository.ConnectionStatusInactive {
		return nil, fmt.Errorf("连接已停用: %d", connectionID)
	}

	if err := cm.checkUserPoolLimit(connection.UserID); err != nil {
		return nil, err
	}

	pool, err := cm.openPool(ctx, connection)
	if err != nil {
		go cm.markConnectionStatus(connectionID, repository.ConnectionStatusError)
		return nil, err
	}

	mp := &managedPool{
		pool:       pool,
		connection: connection,
		createdAt:  time.Now(),
		lastUsed:   time.Now(),
		healthy:    true,
	}

	// 并发创建时保留先到的池
	if actual, loaded := cm.pools.LoadOrStore(connectionID, mp); loaded {
		pool.Close()
		existing := actual.(*managedPool)
		existing.touch()
		return existing.pool, nil
	}

	go cm.markConnectionStatus(connectionID, repository.ConnectionStatusActive)

	cm.logger.Info("创建数据库连接池",
		zap.Int64("connection_id", connectionID),
		zap.String("host", connection.Host),
		zap.String("database", connection.DatabaseName))

	return pool, nil
}

// TestConnection 使用存储的加密密码测试连接可用性
func (cm *ConnectionManager) TestConnection(ctx context.Context, connection *repository.DatabaseConnection) error {
	password, err := cm.cipher.Decrypt(connection.PasswordEncrypted)
	if err != nil {
		return fmt.Errorf("解密连接密码失败: %w", err)
	}
	return cm.probeConnection(ctx, connection, password)
}

// CreateConnection 校验并保存新的连接配置，密码先测试后加密落库
func (cm *ConnectionManager) CreateConnection(ctx context.Context, connection *repository.DatabaseConnection) error {
	plainPassword := connection.PasswordEncrypted

	if err := cm.probeConnection(ctx, connection, plainPassword); err != nil {
		return fmt.Errorf("连接测试失败: %w", err)
	}

	encrypted, err := cm.cipher.Encrypt(plainPassword)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}
	connection.PasswordEncrypted = encrypted
	connection.Status = repository.ConnectionStatusActive

	if err := cm.connectionRepo.Create(ctx, connection); err != nil {
		return fmt.Errorf("保存连接配置失败: %w", err)
	}

	cm.logger.Info("创建数据库连接配置",
		zap.Int64("connection_id", connection.ID),
		zap.Int64("user_id", connection.UserID),
		zap.String("host", connection.Host),
		zap.String("database", connection.DatabaseName))
	return nil
}

// UpdateConnection 更新连接配置并失效旧的连接池
// newPassword为空表示本次未换密码，保留connection上已有的密文
func (cm *ConnectionManager) UpdateConnection(ctx context.Context, connection *repository.DatabaseConnection, newPassword string) error {
	if newPassword != "" {
		encrypted, err := cm.cipher.Encrypt(newPassword)
		if err != nil {
			return fmt.Errorf("密码加密失败: %w", err)
		}
		connection.PasswordEncrypted = encrypted
	}

	if err := cm.connectionRepo.Update(ctx, connection); err != nil {
		return fmt.Errorf("更新连接配置失败: %w", err)
	}

	cm.invalidatePool(connection.ID)
	cm.logger.Info("更新数据库连接配置", zap.Int64("connection_id", connection.ID))
	return nil
}

// DeleteConnection 删除连接配置并关闭对应连接池
func (cm *ConnectionManager) DeleteConnection(ctx context.Context, connectionID int64) error {
	cm.invalidatePool(connectionID)

	if err := cm.connectionRepo.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("删除连接配置失败: %w", err)
	}

	cm.logger.Info("删除数据库连接配置", zap.Int64("connection_id", connectionID))
	return nil
}

// PoolStats 返回当前缓存池的统计信息
func (cm *ConnectionManager) PoolStats() map[string]any {
	total, healthy := 0, 0
	pools := []map[string]any{}

	cm.pools.Range(func(key, value any) bool {
		mp := value.(*managedPool)
		total++

		mp.mu.RLock()
		stat := mp.pool.Stat()
		isHealthy := mp.healthy
		lastUsed := mp.lastUsed
		mp.mu.RUnlock()

		if isHealthy {
			healthy++
		}
		pools = append(pools, map[string]any{
			"connection_id":  key,
			"total_conns":    stat.TotalConns(),
			"idle_conns":     stat.IdleConns(),
			"acquired_conns": stat.AcquiredConns(),
			"is_healthy":     isHealthy,
			"last_used":      lastUsed,
			"created_at":     mp.createdAt,
		})
		return true
	})

	return map[string]any{
		"total_pools":     total,
		"healthy_pools":   healthy,
		"unhealthy_pools": total - healthy,
		"pools":           pools,
	}
}

// PoolCount 返回当前缓存的目标库连接池数量
func (cm *ConnectionManager) PoolCount() int {
	count := 0
	cm.pools.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// openPool 解密密码并建立经过Ping验证的连接池
func (cm *ConnectionManager) openPool(ctx context.Context, connection *repository.DatabaseConnection) (*pgxpool.Pool, error) {
	password, err := cm.cipher.Decrypt(connection.PasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("解密连接密码失败: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cm.buildConnectionString(connection, password))
	if err != nil {
		return nil, fmt.Errorf("解析连接配置失败: %w", err)
	}

	// 目标库是查询对象而非系统库，池规模保守
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建连接池失败: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("数据库连接验证失败: %w", err)
	}

	return pool, nil
}

// probeConnection 用一次性连接池验证连通性，不进入缓存
func (cm *ConnectionManager) probeConnection(ctx context.Context, connection *repository.DatabaseConnection, password string) error {
	poolConfig, err := pgxpool.ParseConfig(cm.buildConnectionString(connection, password))
	if err != nil {
		return fmt.Errorf("解析连接配置失败: %w", err)
	}
	poolConfig.MaxConns = 1

	probeCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(probeCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("创建测试连接失败: %w", err)
	}
	defer pool.Close()

	var result int
	if err := pool.QueryRow(probeCtx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("连接验证查询失败: %w", err)
	}
	return nil
}

func (cm *ConnectionManager) buildConnectionString(connection *repository.DatabaseConnection, password string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=prefer connect_timeout=%d",
		connection.Host, connection.Port, connection.Username, password,
		connection.DatabaseName, int(cm.connectTimeout.Seconds()))
}

func (cm *ConnectionManager) checkUserPoolLimit(userID int64) error {
	count := 0
	cm.pools.Range(func(_, value any) bool {
		if value.(*managedPool).connection.UserID == userID {
			count++
		}
		return true
	})

	if count >= cm.maxPoolsPerUser {
		return fmt.Errorf("用户连接池数量已达上限: %d", cm.maxPoolsPerUser)
	}
	return nil
}

func (cm *ConnectionManager) invalidatePool(connectionID int64) {
	if value, ok := cm.pools.LoadAndDelete(connectionID); ok {
		value.(*managedPool).pool.Close()
	}
}

func (cm *ConnectionManager) healthCheckLoop() {
	ticker := time.NewTicker(cm.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.stopCh:
			return
		case <-ticker.C:
			cm.pools.Range(func(key, value any) bool {
				cm.checkPoolHealth(key.(int64), value.(*managedPool))
				return true
			})
		}
	}
}

func (cm *ConnectionManager) checkPoolHealth(connectionID int64, mp *managedPool) {
	ctx, cancel := context.WithTimeout(context.Background(), cm.connectTimeout)
	defer cancel()

	var result int
	err := mp.pool.QueryRow(ctx, "SELECT 1").Scan(&result)

	mp.mu.Lock()
	if err != nil {
		mp.healthy = false
		mp.lastError = err.Error()
	} else {
		mp.healthy = true
		mp.lastError = ""
	}
	mp.mu.Unlock()

	if err != nil {
		cm.logger.Warn("数据库连接池健康检查失败",
			zap.Int64("connection_id", connectionID),
			zap.Error(err))
		go cm.markConnectionStatus(connectionID, repository.ConnectionStatusError)
	}
}

func (cm *ConnectionManager) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-cm.stopCh:
			return
		case <-ticker.C:
			cm.cleanupIdlePools()
		}
	}
}

func (cm *ConnectionManager) cleanupIdlePools() {
	now := time.Now()

	cm.pools.Range(func(key, value any) bool {
		mp := value.(*managedPool)

		mp.mu.RLock()
		idle := now.Sub(mp.lastUsed) > cm.poolIdleTimeout
		idleTime := now.Sub(mp.lastUsed)
		mp.mu.RUnlock()

		if idle {
			connectionID := key.(int64)
			cm.logger.Info("清理空闲连接池",
				zap.Int64("connection_id", connectionID),
				zap.Duration("idle_time", idleTime))
			mp.pool.Close()
			cm.pools.Delete(connectionID)
		}
		return true
	})
}

func (cm *ConnectionManager) markConnectionStatus(connectionID int64, status repository.ConnectionStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cm.connectionRepo.UpdateStatus(ctx, connectionID, status, time.Now()); err != nil {
		cm.logger.Error("更新连接状态失败",
			zap.Int64("connection_id", connectionID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (mp *managedPool) touch() {
	mp.mu.Lock()
	mp.lastUsed = time.Now()
	mp.mu.Unlock()
}
