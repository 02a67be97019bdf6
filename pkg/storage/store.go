package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Object 读取到的对象，调用方负责关闭 Body
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Store 对象存储接口
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (*Object, error)
}

// Config 对象存储配置
type Config struct {
	Driver string `env:"STORAGE_DRIVER"` // minio | cos | memory
	Minio  MinioConfig
	COS    COSConfig
}

// New 根据配置创建对象存储
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "minio":
		return NewMinioStore(cfg.Minio)
	case "cos":
		return NewCOSStore(cfg.COS)
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// normalizeMetadata 元数据键统一为小写，屏蔽各后端对键名大小写的差异
func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
