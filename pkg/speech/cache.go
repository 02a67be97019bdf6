package speech

import (
	"context"
	stderrors "errors"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"VoiceForge/pkg/cache"
	"VoiceForge/pkg/errors"
	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/metrics"
	stores "VoiceForge/pkg/storage"
	"VoiceForge/pkg/synthesis"
)

const (
	defaultL1Size       = 256
	defaultClaimTTL     = 90 * time.Second
	defaultPollInterval = 200 * time.Millisecond
)

// Metadata keys written alongside cached audio.
const (
	MetaVoiceID         = "voice-id"
	MetaModelID         = "model-id"
	MetaStability       = "stability"
	MetaSimilarityBoost = "similarity-boost"
	MetaTextLength      = "text-length"
	MetaGeneratedAt     = "generated-at"
)

// GenerateFunc produces audio for a cache miss.
type GenerateFunc func(ctx context.Context) ([]byte, error)

// CacheConfig tunes the speech cache.
type CacheConfig struct {
	// OutputFormat is the provider output format, part of every fingerprint.
	OutputFormat string
	// L1Size bounds the in-process LRU of recently served audio; negative disables it.
	L1Size int
	// ClaimTTL bounds how long one holder may take to generate before others take over.
	ClaimTTL time.Duration
	// PollInterval is how often a waiting caller re-checks the store and the claim.
	PollInterval time.Duration
}

// Cache is a content-addressed store of synthesized audio. Concurrent misses for the
// same fingerprint generate at most once: callers in this process share one flight,
// and processes coordinate through a Claimer.
type Cache struct {
	cfg     CacheConfig
	store   stores.Store
	claimer cache.Claimer
	l1      *lru.Cache[string, []byte]
	group   singleflight.Group
	metrics *metrics.Metrics
	lg      *zap.Logger
}

// NewCache builds a cache over store. A nil claimer falls back to an in-process one.
func NewCache(cfg CacheConfig, store stores.Store, claimer cache.Claimer, m *metrics.Metrics) *Cache {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.L1Size == 0 {
		cfg.L1Size = defaultL1Size
	}
	if claimer == nil {
		claimer = cache.NewGoCacheClaimer("speech:")
	}
	c := &Cache{
		cfg:     cfg,
		store:   store,
		claimer: claimer,
		metrics: m,
		lg:      logger.Named("speech.cache"),
	}
	if cfg.L1Size > 0 {
		// 仅在 size <= 0 时返回错误
		c.l1, _ = lru.New[string, []byte](cfg.L1Size)
	}
	return c
}

// Key computes the cache key of a request under the configured output format.
func (c *Cache) Key(r Request) CacheKey {
	fp := Fingerprint(r.VoiceID, r.ModelID, r.Prosody.Stability, r.Prosody.SimilarityBoost, c.cfg.OutputFormat, r.Text)
	return CacheKey{
		Fingerprint: fp,
		ObjectKey:   ObjectKey(r.ModelID, r.VoiceID, fp, c.cfg.OutputFormat),
		Request:     r,
	}
}

// ContentType is the MIME type of the audio this cache holds.
func (c *Cache) ContentType() string {
	return synthesis.ContentType(c.cfg.OutputFormat)
}

// Exists reports whether audio for key has been stored.
func (c *Cache) Exists(ctx context.Context, key CacheKey) (bool, error) {
	if c.l1 != nil && c.l1.Contains(key.Fingerprint) {
		return true, nil
	}
	ok, err := c.store.Exists(ctx, key.ObjectKey)
	if err != nil {
		return false, errors.CacheStorage(err, "check cached audio %s", key.ObjectKey)
	}
	return ok, nil
}

// Get loads stored audio. found is false when nothing is stored under key.
func (c *Cache) Get(ctx context.Context, key CacheKey) (data []byte, found bool, err error) {
	obj, err := c.store.Get(ctx, key.ObjectKey)
	if stderrors.Is(err, stores.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.CacheStorage(err, "get cached audio %s", key.ObjectKey)
	}
	defer obj.Body.Close()
	data, err = io.ReadAll(obj.Body)
	if err != nil {
		return nil, false, errors.CacheStorage(err, "read cached audio %s", key.ObjectKey)
	}
	return data, true, nil
}

// Save writes audio under key with its request metadata.
func (c *Cache) Save(ctx context.Context, key CacheKey, data []byte) error {
	r := key.Request
	meta := map[string]string{
		MetaVoiceID:         r.VoiceID,
		MetaModelID:         r.ModelID,
		MetaStability:       strconv.FormatFloat(r.Prosody.Stability, 'f', -1, 64),
		MetaSimilarityBoost: strconv.FormatFloat(r.Prosody.SimilarityBoost, 'f', -1, 64),
		MetaTextLength:      strconv.Itoa(len([]rune(r.Text))),
		MetaGeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.store.Put(ctx, key.ObjectKey, data, c.ContentType(), meta); err != nil {
		return errors.CacheStorage(err, "save cached audio %s", key.ObjectKey)
	}
	return nil
}

// GetOrGenerate returns the stored audio for key, generating and storing it on a miss.
// Cancelling ctx abandons only this caller's wait; a generation shared with other
// callers keeps running and is stored for them.
func (c *Cache) GetOrGenerate(ctx context.Context, key CacheKey, generate GenerateFunc) ([]byte, error) {
	if c.l1 != nil {
		if data, ok := c.l1.Get(key.Fingerprint); ok {
			c.metrics.RecordCacheHit("l1")
			return data, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.group.DoChan(key.Fingerprint, func() (interface{}, error) {
		return c.resolve(context.WithoutCancel(ctx), key, generate)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// resolve reads the store and otherwise takes the claim and generates. While another
// holder has the claim it polls both; the claim is taken over as soon as it is free,
// whether the holder released it after a failure or it expired.
func (c *Cache) resolve(ctx context.Context, key CacheKey, generate GenerateFunc) ([]byte, error) {
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	for {
		data, found, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			c.metrics.RecordCacheHit("store")
			c.remember(key, data)
			return data, nil
		}

		owner := uuid.NewString()
		acquired, err := c.claimer.Acquire(ctx, key.Fingerprint, owner, c.cfg.ClaimTTL)
		if err != nil {
			return nil, errors.CacheStorage(err, "claim %s", key.Fingerprint)
		}
		if acquired {
			if ticker != nil {
				c.lg.Info("generation claim freed without audio, taking over", zap.String("fingerprint", key.Fingerprint))
			}
			return c.generate(ctx, key, owner, generate)
		}

		if ticker == nil {
			c.metrics.RecordClaimWait()
			ticker = time.NewTicker(c.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cache) generate(ctx context.Context, key CacheKey, owner string, generate GenerateFunc) ([]byte, error) {
	defer func() {
		if err := c.claimer.Release(context.WithoutCancel(ctx), key.Fingerprint, owner); err != nil {
			c.lg.Warn("release generation claim failed", zap.String("fingerprint", key.Fingerprint), zap.Error(err))
		}
	}()

	// 另一个持有者可能在我们检查之后、占位之前写入
	data, found, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		c.metrics.RecordCacheHit("store")
		c.remember(key, data)
		return data, nil
	}

	start := time.Now()
	data, err = generate(ctx)
	if err != nil {
		if errors.KindOf(err) == errors.KindUnknown {
			return nil, errors.SynthesisProvider(err, "generate speech")
		}
		return nil, err
	}
	c.metrics.RecordCacheMiss(time.Since(start))

	if err := c.Save(ctx, key, data); err != nil {
		return nil, err
	}
	c.remember(key, data)
	return data, nil
}

func (c *Cache) remember(key CacheKey, data []byte) {
	if c.l1 != nil {
		c.l1.Add(key.Fingerprint, data)
	}
}
