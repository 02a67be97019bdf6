package cache

import (
	"fmt"
	"strings"
)

// NewClaimer 根据配置创建占位实例
func NewClaimer(config Config) (Claimer, error) {
	switch strings.ToLower(config.Type) {
	case "", "local", "gocache":
		return NewGoCacheClaimer(config.KeyPrefix), nil
	case "redis":
		return NewRedisClaimer(config.Redis, config.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}
