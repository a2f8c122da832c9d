package config

import "runtime"

// 构建信息由构建脚本通过ldflags注入:
//
//	go build -ldflags "-X sqlchat-go/internal/config.version=v1.2.0 \
//	  -X sqlchat-go/internal/config.gitCommit=$(git rev-parse --short HEAD) \
//	  -X sqlchat-go/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// AppInfo 应用标识与构建信息，用于/version接口和健康检查响应
type AppInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	BuildTime   string `json:"build_time"`
	GitCommit   string `json:"git_commit"`
	GoVersion   string `json:"go_version"`
	Environment string `json:"environment"`
}

// DefaultAppInfo 组合ldflags注入的构建信息与当前运行环境
func DefaultAppInfo() *AppInfo {
	return &AppInfo{
		Name:        "sqlchat-api",
		Version:     version,
		BuildTime:   buildTime,
		GitCommit:   gitCommit,
		GoVersion:   runtime.Version(),
		Environment: getEnvString("APP_ENV", "development"),
	}
}

// GetBuildInfo 以map形式返回全部构建信息
func (a *AppInfo) GetBuildInfo() map[string]any {
	return map[string]any{
		"name":        a.Name,
		"version":     a.Version,
		"build_time":  a.BuildTime,
		"git_commit":  a.GitCommit,
		"go_version":  a.GoVersion,
		"environment": a.Environment,
	}
}
