package util

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var envs = newEnvReader()

func newEnvReader() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// LoadEnv 依次加载 .env 与 .env.<env>，后者覆盖前者；进程环境变量优先级最高
func LoadEnv(env string) error {
	var firstErr error
	for _, name := range []string{".env", ".env." + env} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		envs.SetConfigFile(name)
		envs.SetConfigType("env")
		if err := envs.MergeInConfig(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func GetEnv(key string) string {
	return strings.TrimSpace(envs.GetString(key))
}

// GetEnvOr 读取环境变量，为空时返回默认值
func GetEnvOr(key, def string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

func GetIntEnvOr(key string, def int64) int64 {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return n
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

func GetBoolEnvOr(key string, def bool) bool {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func GetFloatEnvOr(key string, def float64) float64 {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

func GetDurationEnvOr(key string, def time.Duration) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}
