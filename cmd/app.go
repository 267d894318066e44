package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai/gemini"
	"github.com/spigell/jobmatch/internal/apply"
	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/config"
	"github.com/spigell/jobmatch/internal/embedding"
	"github.com/spigell/jobmatch/internal/ingest"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/normalize"
	"github.com/spigell/jobmatch/internal/ranking"
	"github.com/spigell/jobmatch/internal/secrets"
	"github.com/spigell/jobmatch/internal/sources"
	"github.com/spigell/jobmatch/internal/store"
)

// app holds everything a command may need, built once from the config.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store    store.Store
	redis    *redis.Client
	registry *sources.Registry
	feeds    []*sources.Feed
	pipeline *ingest.Pipeline
	engine   *ranking.Engine
	applier  *apply.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	dsn, err := cfg.StorageDSN()
	if err != nil {
		return nil, err
	}
	a.store, err = store.Open(ctx, cfg.Storage.Driver, dsn, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}

	if cfg.Redis.URL != "" {
		if a.redis, err = store.NewRedisClient(ctx, cfg.Redis.URL); err != nil {
			a.Close()
			return nil, err
		}
	}

	var (
		remote   embedding.Remote
		enricher normalize.Enricher
	)
	if cfg.Gemini.Enabled {
		remote, enricher, err = newGemini(ctx, cfg.Gemini, log)
		if err != nil {
			// Local embeddings and rule-based extraction still work.
			log.Warn("skipping gemini", zap.Error(err))
		}
	}

	var cache embedding.Cache = embedding.NewMemory(cfg.Embedding.CacheTTL, clock.Real())
	if a.redis != nil {
		cache = &embedding.Tiered{L1: cache, L2: embedding.NewRedis(a.redis, cfg.Embedding.CacheTTL, log.Named("cache"))}
	}
	embedder := embedding.NewGenerator(remote, cfg.Embedding.Limiter(), cache, cfg.Embedding, log.Named("embedding"))

	if err := a.registerSources(); err != nil {
		a.Close()
		return nil, err
	}

	normOpts := []normalize.Option{normalize.WithLogger(log.Named("normalize"))}
	if enricher != nil {
		normOpts = append(normOpts, normalize.WithEnricher(enricher, cfg.Gemini.EnrichTimeout))
	}
	a.pipeline = ingest.New(a.registry, a.store,
		ingest.WithNormalizer(normalize.New(normOpts...)),
		ingest.WithFilters(cfg.Filtering(), nil),
		ingest.WithEmbedder(embedder),
		ingest.WithLogger(log.Named("ingest")),
	)

	a.engine, err = ranking.NewEngine(a.store, embedder, cfg.Matching, ranking.WithLogger(log.Named("ranking")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.applier = a.newApplier()
	return a, nil
}

func newGemini(ctx context.Context, cfg config.GeminiConfig, log *zap.Logger) (embedding.Remote, normalize.Enricher, error) {
	apiKey, err := secrets.Load(cfg.KeySource())
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithModel(log, "gemini", cfg.Model)
	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := gemini.NewEmbedder(generator, embedding.Dim, genLogger)
	if err != nil {
		return nil, nil, err
	}

	var enricher normalize.Enricher
	if cfg.Enrich {
		enricher = gemini.NewExtractor(generator, genLogger, cfg.MaxLogLength)
	}
	return embedder, enricher, nil
}

func (a *app) registerSources() error {
	a.registry = sources.NewRegistry()

	for _, sc := range a.cfg.Sources {
		log := logger.WithFields(a.logger.Named("source"), logger.Source(sc.ID))

		token, err := secrets.Optional(sc.TokenSource())
		if err != nil {
			return err
		}

		var adapter sources.Adapter
		switch jobs.SourceKind(sc.Kind) {
		case jobs.KindSearchAPI:
			adapter, err = sources.NewSearchAPI(sources.SearchAPIConfig{ID: sc.ID, URL: sc.URL, Token: token}, log)
		case jobs.KindSocial:
			adapter, err = sources.NewSocial(sources.SocialConfig{ID: sc.ID, URL: sc.URL, Token: token, Hashtags: sc.Hashtags}, log)
		case jobs.KindCareerSite:
			adapter, err = sources.NewCareerSite(sources.CareerSiteConfig{
				ID: sc.ID, URL: sc.URL, Company: sc.Company, Selectors: sc.CareerSelectors(),
			}, log)
		case jobs.KindFeed:
			feed := sources.NewFeed(sc.ID, sc.Capacity, nil, log)
			a.feeds = append(a.feeds, feed)
			adapter = feed
		default:
			err = fmt.Errorf("unknown source kind %q", sc.Kind)
		}
		if err != nil {
			return fmt.Errorf("source %s: %w", sc.ID, err)
		}

		if err := a.registry.Register(adapter, sc.Job(), sc.Options()); err != nil {
			return err
		}
		log.Debug("source registered", zap.String("kind", sc.Kind), zap.Bool("active", sc.IsActive()))
	}
	return nil
}

func (a *app) newApplier() *apply.Orchestrator {
	log := a.logger.Named("apply")

	token, err := secrets.Optional(a.cfg.ApplyToken())
	if err != nil {
		log.Warn("submitting without apply token", zap.Error(err))
	}

	var quota apply.QuotaStore
	switch {
	case a.redis != nil:
		quota = apply.NewRedisQuota(a.redis)
	case a.cfg.Storage.Driver == store.DriverMemory:
		quota = apply.NewMemoryQuota()
	default:
		quota = store.Quota{Store: a.store}
	}

	return apply.NewOrchestrator(
		a.cfg.ApplyConfig(),
		quota,
		a.cfg.Profiles(),
		apply.NewHTTPSubmitter(a.cfg.ApplyEndpoints(), token, log),
		a.store,
		apply.WithLogger(log),
	)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing storage", zap.Error(err))
		}
	}
}
