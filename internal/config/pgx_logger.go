package config

import (
	"context"

	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// NewPgxTraceLog 构造pgx连接可用的tracelog，驱动内部日志经zap输出
// level取值trace/debug/info/warn/error/none，非法值按warn处理
func NewPgxTraceLog(logger *zap.Logger, level string) *tracelog.TraceLog {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &tracelog.TraceLog{
		Logger:   &pgxZapAdapter{logger: logger},
		LogLevel: parsePgxLogLevel(level),
	}
}

// pgxZapAdapter 实现tracelog.Logger，级别过滤由外层TraceLog完成
type pgxZapAdapter struct {
	logger *zap.Logger
}

func (a *pgxZapAdapter) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for key, value := range data {
		if err, ok := value.(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, value))
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		a.logger.Debug(msg, fields...)
	case tracelog.LogLevelInfo:
		a.logger.Info(msg, fields...)
	case tracelog.LogLevelWarn:
		a.logger.Warn(msg, fields...)
	default:
		a.logger.Error(msg, fields...)
	}
}

func parsePgxLogLevel(level string) tracelog.LogLevel {
	switch level {
	case "trace":
		return tracelog.LogLevelTrace
	case "debug":
		return tracelog.LogLevelDebug
	case "info":
		return tracelog.LogLevelInfo
	case "warn":
		return tracelog.LogLevelWarn
	case "error":
		return tracelog.LogLevelError
	case "none":
		return tracelog.LogLevelNone
	default:
		return tracelog.LogLevelWarn
	}
}
