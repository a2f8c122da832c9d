package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConfig PostgreSQL数据库连接配置
// 支持环境变量配置，适用于容器化部署
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"` // 密码不输出到JSON
	Database string `json:"database"`

	// SSL配置
	SSLMode     string `json:"ssl_mode"`
	SSLRootCert string `json:"ssl_root_cert,omitempty"`

	// 连接池配置
	MaxConns          int32         `json:"max_conns"`
	MinConns          int32         `json:"min_conns"`
	MaxConnLifetime   time.Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `json:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `json:"health_check_period"`

	// 超时配置
	ConnectTimeout time.Duration `json:"connect_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout"`

	// 监控配置
	LogLevel        string `json:"log_level"`
	ApplicationName string `json:"application_name"`
	SearchPath      string `json:"search_path"`
}

// DefaultDatabaseConfig 返回默认数据库配置，适用于开发环境
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "sqlchat",
		SSLMode:  "prefer",

		MaxConns:          50,
		MinConns:          5,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 5 * time.Minute,

		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,

		LogLevel:        "warn",
		ApplicationName: "sqlchat",
		SearchPath:      "public",
	}
}

// LoadDatabaseConfigFromEnv 从环境变量构建数据库配置
// 未设置的项使用默认值，需先调用LoadEnv加载.env文件
func LoadDatabaseConfigFromEnv() *DatabaseConfig {
	c := DefaultDatabaseConfig()

	c.Host = getEnvString("DB_HOST", c.Host)
	c.Port = getEnvInt("DB_PORT", c.Port)
	c.User = getEnvString("DB_USER", c.User)
	c.Password = getEnvString("DB_PASSWORD", c.Password)
	c.Database = getEnvString("DB_NAME", c.Database)
	c.SSLMode = getEnvString("DB_SSL_MODE", c.SSLMode)
	c.SSLRootCert = getEnvString("DB_SSL_ROOT_CERT", c.SSLRootCert)
	c.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.MaxConns)))
	c.MinConns = int32(getEnvInt("DB_MIN_CONNS", int(c.MinConns)))
	c.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", c.MaxConnLifetime)
	c.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE", c.MaxConnIdleTime)
	c.HealthCheckPeriod = getEnvDuration("DB_HEALTH_CHECK_PERIOD", c.HealthCheckPeriod)
	c.ConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.QueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", c.QueryTimeout)
	c.LogLevel = getEnvString("DB_LOG_LEVEL", c.LogLevel)
	c.ApplicationName = getEnvString("DB_APPLICATION_NAME", c.ApplicationName)

	return c
}

// GetConnectionString 构建pgx格式的连接字符串
func (c *DatabaseConfig) GetConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s search_path=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.ApplicationName, c.SearchPath,
	)

	if c.SSLRootCert != "" {
		connStr += fmt.Sprintf(" sslrootcert=%s", c.SSLRootCert)
	}
	connStr += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))

	return connStr
}

// Validate 验证数据库配置的有效性
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("数据库主机地址不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("数据库端口必须在1-65535范围内")
	}
	if c.User == "" {
		return fmt.Errorf("数据库用户名不能为空")
	}
	if c.Database == "" {
		return fmt.Errorf("数据库名称不能为空")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("最小连接数必须在0-最大连接数范围内")
	}

	switch c.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("无效的SSL模式: %s", c.SSLMode)
	}

	return nil
}

// GetPoolConfig 获取pgxpool连接池配置
func (c *DatabaseConfig) GetPoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("数据库配置验证失败: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(c.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("解析数据库连接字符串失败: %w", err)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = c.HealthCheckPeriod

	return poolConfig, nil
}
