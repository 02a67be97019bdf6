package config

import (
	"log"
	"os"
	"strings"
	"time"

	"VoiceForge/pkg/cache"
	"VoiceForge/pkg/llm"
	"VoiceForge/pkg/logger"
	stores "VoiceForge/pkg/storage"
	"VoiceForge/pkg/synthesis"
	"VoiceForge/pkg/util"
)

// CloneConfig 声音克隆限制
type CloneConfig struct {
	RateLimitCap    int           `env:"VOICE_CLONE_RATE_LIMIT"`
	RateLimitWindow time.Duration `env:"VOICE_CLONE_RATE_WINDOW"`
	MinSeconds      float64       `env:"VOICE_CLONE_MIN_SECONDS"`
	MaxSeconds      float64       `env:"VOICE_CLONE_MAX_SECONDS"`
	PendingStaleAge time.Duration `env:"VOICE_CLONE_PENDING_STALE"`
	SweepSchedule   string        `env:"VOICE_CLONE_SWEEP_SCHEDULE"`
}

// SpeechConfig 语音缓存与分句
type SpeechConfig struct {
	CacheTurnAudio bool          `env:"VOICE_CACHE_TURN_AUDIO"`
	L1Size         int           `env:"VOICE_CACHE_L1_SIZE"`
	ClaimTTL       time.Duration `env:"VOICE_CACHE_CLAIM_TTL"`
	PollInterval   time.Duration `env:"VOICE_CACHE_POLL_INTERVAL"`
}

// RateLimitConfig HTTP 限流
type RateLimitConfig struct {
	Rate      string `env:"RATE_LIMIT"`
	Store     string `env:"RATE_LIMIT_STORE"` // memory | redis
	KeyPrefix string `env:"RATE_LIMIT_PREFIX"`
}

// config/config.go
type Config struct {
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	Log       logger.LogConfig
	Voice     synthesis.Config
	Clone     CloneConfig
	Speech    SpeechConfig
	Cache     cache.Config
	Storage   stores.Config
	LLM       llm.Config
	RateLimit RateLimitConfig
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = FromEnv()
	return nil
}

// FromEnv 从环境变量构建配置，缺省值与生产默认一致
func FromEnv() *Config {
	cacheDefaults := cache.DefaultConfig()
	return &Config{
		DBDriver:  util.GetEnvOr("DB_DRIVER", "sqlite"),
		DSN:       util.GetEnvOr("DSN", "file:voiceforge.db"),
		Addr:      util.GetEnvOr("ADDR", ":7072"),
		Mode:      util.GetEnvOr("MODE", "development"),
		APIPrefix: util.GetEnvOr("API_PREFIX", "/api"),
		Log: logger.LogConfig{
			Level:      util.GetEnvOr("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnvOr("LOG_MAX_SIZE", 100)),
			MaxAge:     int(util.GetIntEnvOr("LOG_MAX_AGE", 30)),
			MaxBackups: int(util.GetIntEnvOr("LOG_MAX_BACKUPS", 7)),
		},
		Voice: synthesis.Config{
			Enabled:               util.GetBoolEnvOr("VOICE_ENABLED", true),
			APIKey:                util.GetEnv("ELEVENLABS_API_KEY"),
			BaseURL:               util.GetEnv("ELEVENLABS_BASE_URL"),
			ModelID:               util.GetEnvOr("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
			DefaultVoiceID:        util.GetEnvOr("ELEVENLABS_DEFAULT_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
			OutputFormat:          util.GetEnvOr("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
			MaxCharsPerRequest:    int(util.GetIntEnvOr("VOICE_MAX_CHARS_PER_REQUEST", 250)),
			MaxRequestsPerMessage: int(util.GetIntEnvOr("VOICE_MAX_REQUESTS_PER_MESSAGE", 10)),
			UseFakeProvider:       util.GetBoolEnv("VOICE_USE_FAKE_PROVIDER"),
			Timeout:               util.GetDurationEnvOr("ELEVENLABS_TIMEOUT", 60*time.Second),
		},
		Clone: CloneConfig{
			RateLimitCap:    int(util.GetIntEnvOr("VOICE_CLONE_RATE_LIMIT", 5)),
			RateLimitWindow: util.GetDurationEnvOr("VOICE_CLONE_RATE_WINDOW", 24*time.Hour),
			MinSeconds:      util.GetFloatEnvOr("VOICE_CLONE_MIN_SECONDS", 10),
			MaxSeconds:      util.GetFloatEnvOr("VOICE_CLONE_MAX_SECONDS", 300),
			PendingStaleAge: util.GetDurationEnvOr("VOICE_CLONE_PENDING_STALE", 15*time.Minute),
			SweepSchedule:   util.GetEnvOr("VOICE_CLONE_SWEEP_SCHEDULE", "@every 5m"),
		},
		Speech: SpeechConfig{
			CacheTurnAudio: util.GetBoolEnvOr("VOICE_CACHE_TURN_AUDIO", true),
			L1Size:         int(util.GetIntEnvOr("VOICE_CACHE_L1_SIZE", 256)),
			ClaimTTL:       util.GetDurationEnvOr("VOICE_CACHE_CLAIM_TTL", 90*time.Second),
			PollInterval:   util.GetDurationEnvOr("VOICE_CACHE_POLL_INTERVAL", 200*time.Millisecond),
		},
		Cache: cache.Config{
			Type:      util.GetEnvOr("CACHE_TYPE", cacheDefaults.Type),
			KeyPrefix: util.GetEnvOr("CACHE_KEY_PREFIX", cacheDefaults.KeyPrefix),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvOr("REDIS_ADDR", cacheDefaults.Redis.Addr),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnvOr("REDIS_POOL_SIZE", int64(cacheDefaults.Redis.PoolSize))),
				MinIdleConns: int(util.GetIntEnvOr("REDIS_MIN_IDLE_CONNS", int64(cacheDefaults.Redis.MinIdleConns))),
				DialTimeout:  util.GetDurationEnvOr("REDIS_DIAL_TIMEOUT", cacheDefaults.Redis.DialTimeout),
				ReadTimeout:  util.GetDurationEnvOr("REDIS_READ_TIMEOUT", cacheDefaults.Redis.ReadTimeout),
				WriteTimeout: util.GetDurationEnvOr("REDIS_WRITE_TIMEOUT", cacheDefaults.Redis.WriteTimeout),
			},
		},
		Storage: stores.Config{
			Driver: util.GetEnvOr("STORAGE_DRIVER", "memory"),
			Minio: stores.MinioConfig{
				Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
				AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
				SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
				Bucket:    util.GetEnvOr("MINIO_BUCKET", "voice-cache"),
				UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
			},
			COS: stores.COSConfig{
				BucketURL: util.GetEnv("COS_BUCKET_URL"),
				SecretID:  util.GetEnv("COS_SECRET_ID"),
				SecretKey: util.GetEnv("COS_SECRET_KEY"),
			},
		},
		LLM: llm.Config{
			Provider:     util.GetEnvOr("LLM_PROVIDER", "openai"),
			APIKey:       util.GetEnv("LLM_API_KEY"),
			BaseURL:      util.GetEnv("LLM_BASE_URL"),
			Model:        util.GetEnv("LLM_MODEL"),
			SystemPrompt: util.GetEnv("LLM_SYSTEM_PROMPT"),
			Timeout:      util.GetDurationEnvOr("LLM_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Rate:      util.GetEnvOr("RATE_LIMIT", "30-M"),
			Store:     strings.ToLower(util.GetEnvOr("RATE_LIMIT_STORE", "memory")),
			KeyPrefix: util.GetEnvOr("RATE_LIMIT_PREFIX", "voiceforge:limiter"),
		},
	}
}
