package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 只有持有者才能删除占位
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisClaimer Redis 占位实现，SET NX PX
type redisClaimer struct {
	client *redis.Client
	prefix string
}

// NewRedisClaimer 创建Redis占位
func NewRedisClaimer(config RedisConfig, prefix string) (Claimer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClaimerWithClient(client, prefix), nil
}

// NewRedisClaimerWithClient 复用已有的客户端
func NewRedisClaimerWithClient(client *redis.Client, prefix string) Claimer {
	return &redisClaimer{client: client, prefix: prefix}
}

func (rc *redisClaimer) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := rc.client.SetNX(ctx, rc.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (rc *redisClaimer) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, rc.client, []string{rc.prefix + key}, owner).Err()
}

// Close 关闭连接
func (rc *redisClaimer) Close() error {
	return rc.client.Close()
}
