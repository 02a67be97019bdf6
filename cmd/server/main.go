package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	handlers "VoiceForge/internal/handler"
	"VoiceForge/internal/models"
	"VoiceForge/internal/voice"
	"VoiceForge/pkg/cache"
	"VoiceForge/pkg/config"
	"VoiceForge/pkg/llm"
	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/metrics"
	"VoiceForge/pkg/middleware"
	"VoiceForge/pkg/speech"
	stores "VoiceForge/pkg/storage"
	"VoiceForge/pkg/synthesis"
	"VoiceForge/pkg/util"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	db, err := util.InitDatabase(logger.Lg, cfg.DBDriver, cfg.DSN)
	if err != nil {
		return err
	}
	if err := models.Migrate(db); err != nil {
		return err
	}

	store, err := stores.New(cfg.Storage)
	if err != nil {
		return err
	}
	claimer, err := cache.NewClaimer(cfg.Cache)
	if err != nil {
		return err
	}
	defer claimer.Close()

	m := metrics.NewMetrics()
	gateway := synthesis.New(cfg.Voice)
	speechCache := speech.NewCache(speech.CacheConfig{
		OutputFormat: gateway.Config().OutputFormat,
		L1Size:       cfg.Speech.L1Size,
		ClaimTTL:     cfg.Speech.ClaimTTL,
		PollInterval: cfg.Speech.PollInterval,
	}, store, claimer, m)

	// LLM 客户端沿用 logrus
	llmLog := logrus.New()
	if cfg.Mode != "production" {
		llmLog.SetLevel(logrus.DebugLevel)
	}
	generator, err := llm.New(cfg.LLM, llmLog)
	if err != nil {
		return err
	}

	lifecycle := voice.NewLifecycle(db, gateway, speechCache, store, cfg.Clone, m)
	orchestrator := voice.NewOrchestrator(db, gateway, speechCache, generator, cfg.Speech.CacheTurnAudio, m)

	sweeper, err := voice.NewSweeper(lifecycle, cfg.Clone.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	limiter, err := newRateLimiter(cfg)
	if err != nil {
		return err
	}

	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware(m))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandlers(db, lifecycle, orchestrator, limiter)
	h.Register(engine, cfg.APIPrefix)

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr), zap.Bool("voice_enabled", cfg.Voice.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newRateLimiter(cfg *config.Config) (*middleware.RateLimiter, error) {
	var client *redis.Client
	if cfg.RateLimit.Store == "redis" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	store, err := middleware.NewStore(client, cfg.RateLimit.KeyPrefix)
	if err != nil {
		return nil, err
	}
	prefix := cfg.APIPrefix
	return middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: cfg.RateLimit.Rate,
		PerRouteRates: map[string]string{
			"POST " + prefix + "/voice/clones": "5-H",
			prefix + "/voice/preview":          "20-M",
		},
		Identifier: "user",
		SkipPaths:  []string{prefix + "/system/health", prefix + "/voice/turns/ws"},
		AddHeaders: true,
	}, store, middleware.NewPrometheusObserver(prometheus.DefaultRegisterer)), nil
}
