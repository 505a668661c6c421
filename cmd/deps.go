package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/cache"
	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/embedding"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/flow"
	"github.com/kozaktomas/facegate/internal/logging"
	"github.com/kozaktomas/facegate/internal/model"
)

// runtime holds the collaborators shared by the commands.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	backend   *database.Backend
	store     database.Repository
	redis     *redis.Client
	gate      *model.Gate
	extractor *extractor.Extractor
	hasher    credential.Hasher
}

// setup loads configuration and connects the account store, the optional
// Redis cache and the embedding model gate.
func setup(ctx context.Context) (*runtime, error) {
	cfg := config.Load()

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	policy, err := extractor.ParsePolicy(cfg.Policy.MultiFace)
	if err != nil {
		return nil, err
	}

	src, err := cfg.ModelSource()
	if err != nil {
		return nil, err
	}

	backend, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("account store ready", zap.String("driver", backend.Driver))

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		store:     backend.Repository,
		extractor: extractor.New(policy),
		hasher:    credential.NewBcryptHasher(cfg.Policy.BcryptCost),
	}

	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		rt.store = cache.NewCachedStore(backend.Repository, cache.NewRedisCache(client), ttl, logger)
		logger.Info("account cache enabled", zap.Duration("ttl", ttl))
	}

	rt.gate = model.NewGate(
		embedding.NewClient(cfg.Embedding.URL),
		model.Source{Name: src.Name, Detector: src.Detector, Dim: src.Dim},
		model.WithLogger(logger),
	)

	return rt, nil
}

// flowDeps returns the collaborators for enrollment and verification flows.
func (rt *runtime) flowDeps() flow.Deps {
	return flow.Deps{
		Store:                rt.store,
		Hasher:               rt.hasher,
		Gate:                 rt.gate,
		Extractor:            rt.extractor,
		Logger:               rt.logger,
		MaxBiometricAttempts: rt.cfg.Policy.MaxBiometricAttempts,
	}
}

// cameraProvider returns the configured server-side camera, or nil when
// frames are uploaded by the browser.
func cameraProvider(cfg *config.Config) capture.Provider {
	switch {
	case cfg.Camera.URL != "":
		return capture.NewSnapshotProvider(cfg.Camera.URL)
	case cfg.Camera.Dir != "":
		return capture.NewDirProvider(cfg.Camera.Dir)
	default:
		return nil
	}
}

// Close releases every connection. It is safe to call on a partially built runtime.
func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if rt.backend != nil {
		if err := rt.backend.Close(); err != nil {
			rt.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}
