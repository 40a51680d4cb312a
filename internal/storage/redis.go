package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/constants"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrCacheMiss is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrCacheMiss = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("resume-search-go/storage/redis")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	// Ping to check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// QueryHash 计算搜索会话的缓存键哈希。同一规范化查询与过滤器组合命中同一会话。
func QueryHash(normalizedQuery string, filterJSON string) string {
	sum := md5.Sum([]byte(normalizedQuery + "|" + filterJSON))
	return hex.EncodeToString(sum[:])
}

// ScoredID 搜索会话内的一条有序结果。Payload是命中时索引侧的元数据快照，
// 缓存命中且记录补全失败时作为降级结果返回。
type ScoredID struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// CacheSearchSession 将完整的、排序后的搜索结果缓存到Redis的ZSET中，
// 相似度分数作为ZSET score，索引侧payload存入同生命周期的HASH。
// 缓存的是整个会话的黄金结果集，翻页只在这个集合内切片，避免跨页结果漂移。
func (r *Redis) CacheSearchSession(ctx context.Context, queryHash string, results []ScoredID) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if len(results) == 0 {
		return nil // 不缓存空结果
	}

	key := fmt.Sprintf(constants.KeySearchSession, queryHash)
	metaKey := fmt.Sprintf(constants.KeySearchSessionMeta, queryHash)

	pipe := r.Client.Pipeline()

	// 先删除旧的key，确保缓存是最新的
	pipe.Del(ctx, key, metaKey)

	members := make([]redis.Z, len(results))
	payloads := make(map[string]interface{}, len(results))
	for i, res := range results {
		members[i] = redis.Z{
			Score:  float64(res.Score),
			Member: res.ID,
		}
		if res.Payload != nil {
			if data, marshalErr := json.Marshal(res.Payload); marshalErr == nil {
				payloads[res.ID] = string(data)
			}
		}
	}

	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, constants.SearchSessionTTL)
	if len(payloads) > 0 {
		pipe.HSet(ctx, metaKey, payloads)
		pipe.Expire(ctx, metaKey, constants.SearchSessionTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetSearchSessionPage 从缓存的搜索会话中取出一页结果，并返回会话内结果总数。
// 会话不存在时返回空切片和0。
func (r *Redis) GetSearchSessionPage(ctx context.Context, queryHash string, offset, limit int64) (results []ScoredID, totalCount int64, err error) {
	ctx, span := redisTracer.Start(ctx, "GetSearchSessionPage", trace.WithAttributes(
		semconv.DBSystemRedis,
		attribute.String("search.query_hash", queryHash),
		attribute.Int64("redis.offset", offset),
		attribute.Int64("redis.limit", limit),
	))
	defer span.End()

	key := fmt.Sprintf(constants.KeySearchSession, queryHash)

	pipe := r.Client.Pipeline()
	countCmd := pipe.ZCard(ctx, key)
	// ZRevRangeWithScores 按分数从高到低，即按原始排名
	rangeCmd := pipe.ZRevRangeWithScores(ctx, key, offset, offset+limit-1)
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, 0, err
	}

	members, err := rangeCmd.Result()
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to get cached search page: %w", err)
	}

	results = make([]ScoredID, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, z := range members {
		id, _ := z.Member.(string)
		results = append(results, ScoredID{ID: id, Score: float32(z.Score)})
		ids = append(ids, id)
	}

	totalCount, err = countCmd.Result()
	if err != nil {
		return results, 0, err
	}

	// 回填索引侧payload快照，取不到不影响命中本身
	if len(ids) > 0 {
		metaKey := fmt.Sprintf(constants.KeySearchSessionMeta, queryHash)
		if raw, metaErr := r.Client.HMGet(ctx, metaKey, ids...).Result(); metaErr == nil {
			for i := range results {
				if i >= len(raw) || raw[i] == nil {
					continue
				}
				if encoded, ok := raw[i].(string); ok {
					var payload map[string]interface{}
					if json.Unmarshal([]byte(encoded), &payload) == nil {
						results[i].Payload = payload
					}
				}
			}
		}
	}

	span.SetAttributes(attribute.Int64("search.session_total", totalCount))
	return results, totalCount, nil
}

// DeleteSearchSession 删除一个搜索会话缓存及其payload快照
func (r *Redis) DeleteSearchSession(ctx context.Context, queryHash string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	key := fmt.Sprintf(constants.KeySearchSession, queryHash)
	metaKey := fmt.Sprintf(constants.KeySearchSessionMeta, queryHash)
	return r.Client.Del(ctx, key, metaKey).Err()
}

// InvalidateSearchSessions 失效全部搜索会话缓存。会话按查询哈希分键且无法
// 反查某条简历出现在哪些会话里，索引内容变化后整体作废，由下一次搜索重建。
func (r *Redis) InvalidateSearchSessions(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	prefix := fmt.Sprintf(constants.KeySearchSession, "")
	iter := r.Client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		queryHash := strings.TrimPrefix(iter.Val(), prefix)
		if err := r.DeleteSearchSession(ctx, queryHash); err != nil {
			return fmt.Errorf("删除搜索会话 %s 失败: %w", queryHash, err)
		}
	}
	return iter.Err()
}

// AcquireSearchLock 尝试获取一个查询级分布式锁，防止同一查询的缓存击穿。
// 返回非空的lockValue表示获取成功。
func (r *Redis) AcquireSearchLock(ctx context.Context, queryHash string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockKey := fmt.Sprintf(constants.KeySearchLock, queryHash)
	// 随机值作为锁的持有者标识，时间戳在并发获取时可能碰撞
	lockValue := uuid.NewString()
	// SetNX保证了原子性
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseSearchLock 释放查询级分布式锁，使用Lua脚本保证原子性
func (r *Redis) ReleaseSearchLock(ctx context.Context, queryHash string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	lockKey := fmt.Sprintf(constants.KeySearchLock, queryHash)
	// 如果key存在且值匹配，则删除key
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}

	return false, nil // 锁不存在或不属于当前持有者
}

// md5ExpireDuration 返回MD5去重记录的过期时间
func (r *Redis) md5ExpireDuration() time.Duration {
	if r.config != nil && r.config.MD5RecordExpireDays > 0 {
		return time.Duration(r.config.MD5RecordExpireDays) * 24 * time.Hour
	}
	return constants.MD5RecordExpire
}

// CheckAndSetFileMD5 检查上传文件MD5是否已存在，不存在则原子地登记并关联简历ID。
// 返回 (已存在, 关联的简历ID, 错误)。
func (r *Redis) CheckAndSetFileMD5(ctx context.Context, md5Hex string, resumeID string) (exists bool, existingID string, err error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndSetFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "EVAL"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("db.redis.member", md5Hex),
	)

	if r.Client == nil {
		err = fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", err
	}

	setKey := constants.KeyFileMD5Set
	mapKey := fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex)
	expiry := int64(r.md5ExpireDuration().Seconds())

	// Lua脚本保证检查与登记的原子性：存在则返回已关联的简历ID，
	// 不存在则登记并返回空串
	script := `
		local exists = redis.call('SISMEMBER', KEYS[1], ARGV[1])
		if exists == 1 then
			return redis.call('GET', KEYS[2]) or ""
		end
		redis.call('SADD', KEYS[1], ARGV[1])
		redis.call('EXPIRE', KEYS[1], ARGV[3])
		redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
		return false
	`

	res, err := r.Client.Eval(ctx, script, []string{setKey, mapKey}, md5Hex, resumeID, expiry).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, "", fmt.Errorf("执行原子MD5去重操作失败: %w", err)
	}

	// Lua返回false映射为nil，表示首次登记
	if res == nil {
		span.SetAttributes(attribute.Bool("already_exists", false))
		span.SetStatus(codes.Ok, "")
		return false, "", nil
	}

	existingID, _ = res.(string)
	span.SetAttributes(attribute.Bool("already_exists", true))
	span.SetStatus(codes.Ok, "")
	return true, existingID, nil
}

// RemoveFileMD5 删除MD5去重登记，简历删除后调用，允许同一文件重新上传
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	ctx, span := redisTracer.Start(ctx, "Redis.RemoveFileMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SREM"),
		attribute.String("db.redis.member", md5Hex),
	)

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	pipe := r.Client.Pipeline()
	pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToResumeID, md5Hex))
	_, err := pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("删除MD5登记失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
