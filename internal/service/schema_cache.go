package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sqlchat-go/internal/repository"
)

// SchemaCache 渲染后Schema文本的Redis缓存
// SQL生成的每次请求都需要完整的CREATE TABLE文本，探测目标库代价高，
// 这里以connection_id为键缓存渲染结果，元数据变更时显式失效
type SchemaCache struct {
	client       redis.UniversalClient
	schemaRepo   repository.SchemaRepository
	introspector *SchemaIntrospector
	logger       *zap.Logger

	ttl time.Duration
}

const schemaCacheKeyPrefix = "sqlchat:schema:ddl:"

// NewSchemaCache 创建Schema缓存，ttl非正时取默认30分钟
func NewSchemaCache(
	client redis.UniversalClient,
	schemaRepo repository.SchemaRepository,
	introspector *SchemaIntrospector,
	ttl time.Duration,
	logger *zap.Logger,
) *SchemaCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SchemaCache{
		client:       client,
		schemaRepo:   schemaRepo,
		introspector: introspector,
		logger:       logger,
		ttl:          ttl,
	}
}

// SchemaDDL 返回连接的CREATE TABLE文本
// 查找顺序: Redis缓存、已落库的元数据、现场探测目标库
func (sc *SchemaCache) SchemaDDL(ctx context.Context, connectionID int64) (string, error) {
	key := sc.cacheKey(connectionID)

	if sc.client != nil {
		cached, err := sc.client.Get(ctx, key).Result()
		if err == nil && cached != "" {
			return cached, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			sc.logger.Warn("读取Schema缓存失败", zap.Int64("connection_id", connectionID), zap.Error(err))
		}
	}

	metadata, err := sc.schemaRepo.ListByConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("读取Schema元数据失败: %w", err)
	}
	if len(metadata) == 0 {
		metadata, err = sc.introspector.RefreshMetadata(ctx, connectionID)
		if err != nil {
			return "", err
		}
	}
	if len(metadata) == 0 {
		return "", fmt.Errorf("连接 %d 没有可用的Schema元数据", connectionID)
	}

	ddl := RenderSchemaDDL(metadata)
	sc.store(ctx, key, ddl)
	return ddl, nil
}

// Refresh 重新探测目标库并更新缓存
func (sc *SchemaCache) Refresh(ctx context.Context, connectionID int64) (string, error) {
	metadata, err := sc.introspector.RefreshMetadata(ctx, connectionID)
	if err != nil {
		return "", err
	}

	ddl := RenderSchemaDDL(metadata)
	sc.store(ctx, sc.cacheKey(connectionID), ddl)
	return ddl, nil
}

// Invalidate 删除连接的缓存条目
func (sc *SchemaCache) Invalidate(ctx context.Context, connectionID int64) {
	if sc.client == nil {
		return
	}
	if err := sc.client.Del(ctx, sc.cacheKey(connectionID)).Err(); err != nil {
		sc.logger.Warn("删除Schema缓存失败", zap.Int64("connection_id", connectionID), zap.Error(err))
	}
}

func (sc *SchemaCache) store(ctx context.Context, key, ddl string) {
	if sc.client == nil || ddl == "" {
		return
	}
	if err := sc.client.Set(ctx, key, ddl, sc.ttl).Err(); err != nil {
		sc.logger.Warn("写入Schema缓存失败", zap.String("key", key), zap.Error(err))
	}
}

func (sc *SchemaCache) cacheKey(connectionID int64) string {
	return fmt.Sprintf("%s%d", schemaCacheKeyPrefix, connectionID)
}
