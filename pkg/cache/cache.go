package cache

import (
	"context"
	"time"
)

// Claimer 跨进程的生成占位，同一个 key 同一时刻只允许一个持有者
type Claimer interface {
	// Acquire 尝试占位，成功返回 true；ttl 到期后占位自动失效
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release 释放占位，只有当前持有者才能释放
	Release(ctx context.Context, key, owner string) error

	// Close 关闭底层连接
	Close() error
}

// Config 缓存配置
type Config struct {
	// 占位后端: "local" 或 "redis"
	Type string `json:"type" yaml:"type" env:"CACHE_TYPE" default:"local"`

	// Redis配置
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// 占位 key 前缀
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"CACHE_KEY_PREFIX" default:"voiceforge:claim:"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	// Redis地址
	Addr string `json:"addr" yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`

	// Redis密码
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`

	// Redis数据库
	DB int `json:"db" yaml:"db" env:"REDIS_DB" default:"0"`

	// 连接池大小
	PoolSize int `json:"pool_size" yaml:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`

	// 最小空闲连接数
	MinIdleConns int `json:"min_idle_conns" yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" default:"5"`

	// 连接超时时间
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`

	// 读取超时时间
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`

	// 写入超时时间
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Type:      "local",
		KeyPrefix: "voiceforge:claim:",
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}
