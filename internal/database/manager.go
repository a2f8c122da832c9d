// 系统数据库连接池管理
// 系统库存放用户、会话和查询记录，与用户配置的目标查询库分开管理
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sqlchat-go/internal/config"
)

// Manager 系统数据库连接池管理器
type Manager struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
	logger *zap.Logger
}

// NewManager 创建连接池并执行初始健康检查
func NewManager(dbConfig *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if dbConfig == nil {
		return nil, fmt.Errorf("数据库配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("初始化数据库连接池",
		zap.String("host", dbConfig.Host),
		zap.Int("port", dbConfig.Port),
		zap.String("database", dbConfig.Database),
		zap.Int32("max_conns", dbConfig.MaxConns),
		zap.Int32("min_conns", dbConfig.MinConns))

	poolConfig, err := dbConfig.GetPoolConfig()
	if err != nil {
		return nil, fmt.Errorf("获取连接池配置失败: %w", err)
	}
	poolConfig.ConnConfig.Tracer = config.NewPgxTraceLog(logger.Named("pgx"), dbConfig.LogLevel)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建数据库连接池失败: %w", err)
	}

	manager := &Manager{
		pool:   pool,
		config: dbConfig,
		logger: logger,
	}

	if err := manager.HealthCheck(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("数据库健康检查失败: %w", err)
	}

	logger.Info("数据库连接池初始化成功")
	return manager, nil
}

// GetPool 返回底层连接池
func (m *Manager) GetPool() *pgxpool.Pool {
	return m.pool
}

// HealthCheck 执行连接验证查询并记录池状态
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.pool == nil {
		return fmt.Errorf("数据库连接池未初始化")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := m.pool.QueryRow(checkCtx, "SELECT 1").Scan(&result); err != nil {
		m.logger.Error("数据库健康检查查询失败", zap.Error(err))
		return fmt.Errorf("数据库健康检查失败: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("数据库健康检查返回值异常: %d", result)
	}

	stat := m.pool.Stat()
	m.logger.Debug("数据库连接池状态",
		zap.Int32("total_conns", stat.TotalConns()),
		zap.Int32("idle_conns", stat.IdleConns()),
		zap.Int32("acquired_conns", stat.AcquiredConns()),
		zap.Int64("acquire_count", stat.AcquireCount()))

	return nil
}

// Ping 仅测试连接可用性
func (m *Manager) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

// Close 关闭连接池
func (m *Manager) Close() {
	if m.pool != nil {
		m.logger.Info("关闭数据库连接池")
		m.pool.Close()
	}
}

// PoolStats 连接池统计信息
type PoolStats struct {
	TotalConns      int32         `json:"total_conns"`
	IdleConns       int32         `json:"idle_conns"`
	AcquiredConns   int32         `json:"acquired_conns"`
	AcquireCount    int64         `json:"acquire_count"`
	AcquireDuration time.Duration `json:"acquire_duration"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
}

// GetPoolStats 返回连接池运行时统计
func (m *Manager) GetPoolStats() *PoolStats {
	stat := m.pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration(),
		MaxConns:        m.config.MaxConns,
		MinConns:        m.config.MinConns,
	}
}

// Utilization 连接池使用率 (0.0-1.0)
func (ps *PoolStats) Utilization() float64 {
	if ps.MaxConns <= 0 {
		return 0
	}
	return float64(ps.AcquiredConns) / float64(ps.MaxConns)
}

func (ps *PoolStats) String() string {
	return fmt.Sprintf("Pool Stats - Total: %d, Idle: %d, Acquired: %d, Utilization: %.1f%%",
		ps.TotalConns, ps.IdleConns, ps.AcquiredConns, ps.Utilization()*100)
}
