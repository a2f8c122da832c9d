package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis配置
// 用于JWT令牌黑名单和会话历史缓存
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"-"`
	DB           int           `json:"db"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	PoolTimeout  time.Duration `json:"pool_timeout"`

	TLSEnabled    bool `json:"tls_enabled"`
	TLSSkipVerify bool `json:"tls_skip_verify"`
}

// DefaultRedisConfig 返回默认Redis配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		PoolTimeout:  4 * time.Second,
	}
}

// LoadRedisConfigFromEnv 从环境变量构建Redis配置
func LoadRedisConfigFromEnv() *RedisConfig {
	c := DefaultRedisConfig()

	c.Addr = getEnvString("REDIS_ADDR", c.Addr)
	c.Password = getEnvString("REDIS_PASSWORD", c.Password)
	c.DB = getEnvInt("REDIS_DB", c.DB)
	c.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.PoolSize)
	c.TLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = getEnvBool("REDIS_TLS_SKIP_VERIFY", c.TLSSkipVerify)

	return c
}

// RedisManager Redis客户端管理器
type RedisManager struct {
	client redis.UniversalClient
	config *RedisConfig
	logger *zap.Logger
}

// NewRedisManager 创建Redis管理器并验证连接
func NewRedisManager(config *RedisConfig, logger *zap.Logger) (*RedisManager, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.UniversalOptions{
		Addrs:        []string{config.Addr},
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		PoolTimeout:  config.PoolTimeout,
	}

	if config.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: config.TLSSkipVerify,
		}
	}

	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connected successfully",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB))

	return &RedisManager{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GetClient 获取Redis客户端
func (rm *RedisManager) GetClient() redis.UniversalClient {
	return rm.client
}

// HealthCheck 健康检查
func (rm *RedisManager) HealthCheck(ctx context.Context) error {
	if err := rm.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis健康检查失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (rm *RedisManager) Close() error {
	if rm.client != nil {
		return rm.client.Close()
	}
	return nil
}
