package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/hashicorp/go-multierror"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shaharia-lab/shopassist"
	"github.com/shaharia-lab/shopassist/observability"
	"github.com/shaharia-lab/shopassist/server"
)

// app is the fully wired service. close releases stores and provider clients.
type app struct {
	handler http.Handler
	closers []io.Closer
}

func (a *app) close() error {
	var result error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func newApp(ctx context.Context, cfg Config, logger shopassist.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			if closeErr := a.close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	history, err := a.openHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	catalog, err := a.openCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	backends := shopassist.NewProviderFactory(cfg.DefaultBackend)
	for _, name := range cfg.backends() {
		provider, err := a.newBackend(ctx, cfg, name, logger)
		if err != nil {
			return nil, fmt.Errorf("creating %s backend: %w", name, err)
		}
		var wrapped shopassist.LLMProvider = shopassist.NewTracingLLMProvider(name, provider, metrics)
		if cfg.LLMRateLimit > 0 {
			wrapped = shopassist.NewRateLimitedLLMProvider(wrapped, cfg.LLMRateLimit, cfg.LLMBurst)
		}
		backends.Register(name, wrapped)
	}

	_, intentProvider, err := backends.Resolve(cfg.IntentBackend)
	if err != nil {
		return nil, err
	}
	extractor, err := shopassist.NewIntentExtractor(intentProvider, logger)
	if err != nil {
		return nil, err
	}

	orchestrator, err := shopassist.NewSessionOrchestrator(shopassist.OrchestratorConfig{
		History:   history,
		Backends:  backends,
		Extractor: extractor,
		Enhancer: shopassist.NewIntentEnhancer(extractor,
			shopassist.WithMaxScan(cfg.EnhancerMaxScan),
			shopassist.WithCacheSize(cfg.EnhancerCacheSize),
			shopassist.WithEnhancerMetrics(metrics),
			shopassist.WithEnhancerLogger(logger),
		),
		Searcher:            shopassist.NewProductSearcher(catalog, metrics, logger),
		MaxProductsInPrompt: cfg.MaxProductsInPrompt,
		Metrics:             metrics,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		Chat:           orchestrator,
		History:        history,
		Gatherer:       reg,
		Logger:         logger,
		ServiceName:    cfg.ServiceName,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.handler = srv.Router()

	logger.WithFields(map[string]interface{}{
		"backends":       backends.Backends(),
		"defaultBackend": cfg.DefaultBackend,
		"intentBackend":  cfg.IntentBackend,
		"history":        cfg.HistoryDriver,
		"catalog":        cfg.CatalogDriver,
	}).Info("Service wired")

	return a, nil
}

func (a *app) openHistory(ctx context.Context, cfg Config, logger shopassist.Logger) (shopassist.ChatHistoryStorage, error) {
	switch cfg.HistoryDriver {
	case driverSQLite:
		db, err := sql.Open("sqlite3", cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("opening history database: %w", err)
		}
		store, err := shopassist.NewSQLiteChatHistoryStorage(db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case driverPostgres:
		db, err := sql.Open("postgres", cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("opening history database: %w", err)
		}
		store, err := shopassist.NewPostgresChatHistoryStorage(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return shopassist.NewInMemoryChatHistoryStorage(), nil
	}
}

func (a *app) openCatalog(ctx context.Context, cfg Config, logger shopassist.Logger) (shopassist.CatalogStore, error) {
	seed, err := loadSeed(cfg.CatalogSeedFile)
	if err != nil {
		return nil, err
	}

	var catalog *shopassist.SQLCatalog
	switch cfg.CatalogDriver {
	case driverSQLite, driverPostgres:
		driverName := "sqlite3"
		if cfg.CatalogDriver == driverPostgres {
			driverName = "postgres"
		}
		db, err := sql.Open(driverName, cfg.CatalogDSN)
		if err != nil {
			return nil, fmt.Errorf("opening catalog database: %w", err)
		}
		if cfg.CatalogDriver == driverPostgres {
			catalog, err = shopassist.NewPostgresCatalog(ctx, db, logger)
		} else {
			catalog, err = shopassist.NewSQLiteCatalog(db, logger)
		}
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.closers = append(a.closers, catalog)
	default:
		return shopassist.NewInMemoryCatalog(seed...), nil
	}

	if len(seed) > 0 {
		if err := catalog.Upsert(ctx, seed...); err != nil {
			return nil, fmt.Errorf("seeding catalog: %w", err)
		}
	}
	return catalog, nil
}

func loadSeed(path string) ([]shopassist.Product, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog seed: %w", err)
	}
	defer f.Close()

	products, err := shopassist.LoadProducts(f)
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed %s: %w", path, err)
	}
	return products, nil
}

func (a *app) newBackend(ctx context.Context, cfg Config, name string, logger shopassist.Logger) (shopassist.LLMProvider, error) {
	switch name {
	case shopassist.BackendOpenAI:
		return shopassist.NewOpenAILLMProvider(shopassist.OpenAIProviderConfig{
			Client: shopassist.NewOpenAIClient(cfg.OpenAIAPIKey),
			Model:  openai.ChatModel(cfg.OpenAIModel),
		}), nil

	case shopassist.BackendGrok:
		return shopassist.NewOpenAILLMProvider(shopassist.OpenAIProviderConfig{
			Client: shopassist.NewOpenAIClient(cfg.GrokAPIKey, option.WithBaseURL(cfg.GrokBaseURL)),
			Model:  openai.ChatModel(cfg.GrokModel),
		}), nil

	case shopassist.BackendAnthropic:
		return shopassist.NewAnthropicLLMProvider(shopassist.AnthropicProviderConfig{
			Client: shopassist.NewAnthropicClient(cfg.AnthropicAPIKey),
			Model:  anthropic.Model(cfg.AnthropicModel),
		}), nil

	case shopassist.BackendGemini:
		service, err := shopassist.NewGoogleGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, service)
		provider, err := shopassist.NewGeminiProvider(service, logger)
		if err != nil {
			return nil, err
		}
		return provider, nil

	case shopassist.BackendBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return shopassist.NewBedrockLLMProvider(shopassist.BedrockProviderConfig{
			Client: shopassist.NewBedrockClientWrapper(bedrockruntime.NewFromConfig(awsCfg)),
			Model:  cfg.BedrockModel,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
