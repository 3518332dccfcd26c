package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/config"
	"github.com/suPer8Hu/ugc-platform/internal/db"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"github.com/suPer8Hu/ugc-platform/internal/storage"
	"github.com/suPer8Hu/ugc-platform/internal/store/redisstore"
	"gorm.io/gorm"
)

// App holds the components shared by the api and worker binaries.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	DB       *gorm.DB
	Redis    *redisstore.Store
	Images   *ai.FallbackClient
	Videos   *ai.FallbackClient
	Repo     *generation.Repo
	Planners *generation.PlannerRegistry
	Executor *generation.Executor
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger) (_ *App, err error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, DB: gdb}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := gdb.AutoMigrate(generation.Models()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	quota, err := a.quotaTracker(ctx)
	if err != nil {
		return nil, err
	}

	reg := NewGeneratorRegistry(cfg)
	imageChain, err := reg.Chain(ctx, cfg.ImageProviders)
	if err != nil {
		return nil, fmt.Errorf("image providers: %w", err)
	}
	videoChain, err := reg.Chain(ctx, cfg.VideoProviders)
	if err != nil {
		return nil, fmt.Errorf("video providers: %w", err)
	}
	a.Images = ai.NewFallbackClient(quota, imageChain,
		ai.WithProviderTimeout(cfg.ImageProviderTimeout), ai.WithLogger(log.With("chain", "image")))
	a.Videos = ai.NewFallbackClient(quota, videoChain,
		ai.WithProviderTimeout(cfg.VideoProviderTimeout), ai.WithLogger(log.With("chain", "video")))

	describer, err := newDescriber(cfg)
	if err != nil {
		return nil, err
	}

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Repo = generation.NewRepo(gdb)
	a.Planners = generation.NewPlannerRegistry(generation.DefaultPlanners(describer)...)
	a.Executor = generation.NewExecutor(a.Repo, store, map[generation.Kind]generation.ArtifactGenerator{
		generation.KindImage: a.Images,
		generation.KindVideo: a.Videos,
	}, a.Planners, log)

	log.Info("app ready",
		"db", cfg.DBDriver,
		"storage", cfg.StorageDriver,
		"quota", cfg.QuotaBackend,
		"image_providers", a.Images.Providers(),
		"video_providers", a.Videos.Providers(),
	)
	return a, nil
}

func (a *App) quotaTracker(ctx context.Context) (ai.QuotaTracker, error) {
	switch a.Cfg.QuotaBackend {
	case "", "memory":
		return ai.NewMemoryQuotaStore(a.Cfg.QuotaCooldown), nil
	case "redis":
		a.Redis = redisstore.New(a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
		if err := a.Redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewQuotaStore(a.Redis, a.Cfg.QuotaCooldown), nil
	default:
		return nil, fmt.Errorf("unsupported QUOTA_BACKEND=%q", a.Cfg.QuotaBackend)
	}
}

// NewGeneratorRegistry registers the generation backends known to config.
func NewGeneratorRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("gemini", func(_ context.Context, model string) (ai.Generator, error) {
		return ai.NewGeminiGenerator(cfg.GeminiBaseURL, cfg.GeminiAPIKey, model), nil
	})
	reg.Register("replicate", func(_ context.Context, model string) (ai.Generator, error) {
		return ai.NewReplicateGenerator(cfg.ReplicateBaseURL, cfg.ReplicateAPIKey, model), nil
	})
	return reg
}

func newDescriber(cfg config.Config) (generation.Describer, error) {
	var chat ai.ChatProvider
	switch strings.ToLower(cfg.Describer) {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			// no key, planners use their static fallbacks
			return nil, nil
		}
		p, err := ai.NewOpenAIChatProvider(ai.OpenAIChatConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			MaxRetries: 1,
		})
		if err != nil {
			return nil, err
		}
		chat = p
	case "ollama":
		chat = ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported DESCRIBER=%q", cfg.Describer)
	}
	return ai.NewDescriber(chat, cfg.DescriberTimeout), nil
}

func newStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "", "memory":
		return storage.NewMemoryStorage(cfg.S3PublicBaseURL), nil
	case "s3":
		return storage.NewS3Storage(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3PublicBaseURL)
	default:
		return nil, errors.New("unsupported STORAGE_DRIVER=" + cfg.StorageDriver)
	}
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
