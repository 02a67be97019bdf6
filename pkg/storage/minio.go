package stores

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"VoiceForge/pkg/logger"
)

const bucketCheckTimeout = 10 * time.Second

// MinioConfig MinIO 连接配置
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET"`
	UseSSL    bool   `env:"MINIO_USE_SSL"`
}

type MinioStore struct {
	cfg MinioConfig
	cli *minio.Client

	mu          sync.Mutex
	bucketReady bool
	checkBucket func(ctx context.Context) error
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	m := &MinioStore{cfg: cfg, cli: cli}
	m.checkBucket = m.createBucket
	// 启动时建桶；失败时由后续写入重试
	if err := m.ensureBucket(context.Background()); err != nil {
		logger.Warn("minio bucket not ready", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return m, nil
}

func (m *MinioStore) createBucket(ctx context.Context) error {
	exists, err := m.cli.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return m.cli.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// ensureBucket 只记住成功；检查不跟随调用方取消，有自己的超时
func (m *MinioStore) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bucketCheckTimeout)
	defer cancel()
	if err := m.checkBucket(ctx); err != nil {
		return err
	}
	m.bucketReady = true
	return nil
}

func (m *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := m.cli.GetObject(ctx, m.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Object{
		Body:        obj,
		Size:        st.Size,
		ContentType: st.ContentType,
		Metadata:    normalizeMetadata(st.UserMetadata),
	}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := m.cli.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	return err
}

func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.cli.StatObject(ctx, m.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || strings.EqualFold(code, "NotFound")
}
