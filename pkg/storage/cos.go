package stores

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"
)

const cosMetaPrefix = "X-Cos-Meta-"

// COSConfig 腾讯云 COS 配置，BucketURL 形如 https://<bucket>.cos.<region>.myqcloud.com
type COSConfig struct {
	BucketURL string `env:"COS_BUCKET_URL"`
	SecretID  string `env:"COS_SECRET_ID"`
	SecretKey string `env:"COS_SECRET_KEY"`
}

type COSStore struct {
	cli *cos.Client
}

func NewCOSStore(cfg COSConfig) (*COSStore, error) {
	u, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	cli := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStore{cli: cli}, nil
}

func (s *COSStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.cli.Object.IsExist(ctx, key)
}

func (s *COSStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	meta := http.Header{}
	for k, v := range metadata {
		meta.Set(cosMetaPrefix+k, v)
	}
	_, err := s.cli.Object.Put(ctx, key, bytes.NewReader(data), &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: int64(len(data)),
			XCosMetaXXX:   &meta,
		},
	})
	return err
}

func (s *COSStore) Get(ctx context.Context, key string) (*Object, error) {
	resp, err := s.cli.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta := map[string]string{}
	for k, vs := range resp.Header {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), cosMetaPrefix) && len(vs) > 0 {
			meta[strings.TrimPrefix(http.CanonicalHeaderKey(k), cosMetaPrefix)] = vs[0]
		}
	}
	return &Object{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
		Metadata:    normalizeMetadata(meta),
	}, nil
}
