// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/analysis"
	"github.com/JakeFAU/prodscout/internal/api"
	"github.com/JakeFAU/prodscout/internal/clock/system"
	"github.com/JakeFAU/prodscout/internal/config"
	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/export"
	"github.com/JakeFAU/prodscout/internal/extract"
	"github.com/JakeFAU/prodscout/internal/fetcher"
	collyfetcher "github.com/JakeFAU/prodscout/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/prodscout/internal/fetcher/headless"
	"github.com/JakeFAU/prodscout/internal/github"
	"github.com/JakeFAU/prodscout/internal/headless/detector"
	"github.com/JakeFAU/prodscout/internal/logging"
	"github.com/JakeFAU/prodscout/internal/pipeline"
	"github.com/JakeFAU/prodscout/internal/policy/ratelimit"
	"github.com/JakeFAU/prodscout/internal/progress"
	progresssinks "github.com/JakeFAU/prodscout/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/prodscout/internal/publisher/pubsub"
	"github.com/JakeFAU/prodscout/internal/runs"
	"github.com/JakeFAU/prodscout/internal/search"
	"github.com/JakeFAU/prodscout/internal/search/scrape"
	"github.com/JakeFAU/prodscout/internal/search/serpapi"
	gcsstorage "github.com/JakeFAU/prodscout/internal/storage/gcs"
	localstorage "github.com/JakeFAU/prodscout/internal/storage/local"
	memoryStorage "github.com/JakeFAU/prodscout/internal/storage/memory"
	pgstore "github.com/JakeFAU/prodscout/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/prodscout/internal/storage/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        discovery.Clock
	store        discovery.RepositoryStore
	orchestrator *pipeline.Orchestrator
	runs         *runs.Manager
	apiServer    *api.Server
	progressHub  *progress.Hub
	searcher     *search.Provider
	headless     *headlessfetcher.Fetcher
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Build creates the application's dependencies. Clients are created in
// dependency order; on failure everything opened so far is closed.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("export_backend", cfg.Export.Backend),
	)

	if app.store, err = setupStore(ctx, app); err != nil {
		return nil, err
	}
	exporter, err := setupExporter(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	queries, err := cfg.DefaultQueries()
	if err != nil {
		return nil, err
	}

	gh := setupGitHub(app)
	deps := pipeline.Deps{
		Searcher:   setupSearch(app),
		Pages:      setupPages(app),
		Extractor:  extract.New(),
		Metadata:   gh,
		RepoSearch: gh,
		Store:      app.store,
		Analyzer:   setupAnalyzer(app),
		Clock:      app.clock,
	}
	if exporter != nil {
		deps.Exporter = exporter
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	app.orchestrator, err = pipeline.New(pipeline.Config{
		Threshold:      cfg.Pipeline.Threshold,
		MaxResults:     cfg.Search.MaxResults,
		DefaultQueries: queries,
		NotifyTopic:    cfg.PubSub.TopicName,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	broadcast, err := setupProgress(app)
	if err != nil {
		return nil, err
	}
	app.runs = runs.NewManager(runs.Config{Retention: cfg.RunRetention()}, app.orchestrator, app.progressHub, app.clock, logger)
	app.apiServer = api.NewServer(api.Deps{
		Runs:   app.runs,
		Store:  app.store,
		Events: broadcast,
		Clock:  app.clock,
	}, cfg, logger)
	return app, nil
}

func setupStore(ctx context.Context, app *App) (discovery.RepositoryStore, error) {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.StorePostgres:
		app.logger.Info("using postgres repository store")
		store, err := pgstore.NewRepositoryStore(ctx, pgstore.Config{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxConns), //nolint:gosec // validated positive and small
			Migrate:  cfg.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		return store, nil
	case config.StoreSQLite:
		app.logger.Info("using sqlite repository store", zap.String("path", cfg.SQLitePath))
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLitePath, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Warn("using in-memory repository store; records are lost on exit")
		return memoryStorage.NewRepositoryStore(), nil
	}
}

func setupExporter(ctx context.Context, app *App) (*export.Writer, error) {
	cfg := app.cfg.Export
	var blobs discovery.BlobStore
	switch cfg.Backend {
	case config.ExportGCS:
		app.logger.Info("using GCS export backend", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		if blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket}); err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.ExportLocal:
		app.logger.Info("using local export backend", zap.String("dir", cfg.Dir))
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
	case config.ExportMemory:
		app.logger.Info("using in-memory export backend")
		blobs = memoryStorage.NewBlobStore()
	default:
		app.logger.Info("CSV export disabled")
		return nil, nil
	}
	return export.NewWriter(blobs, cfg.Prefix), nil
}

func setupPublisher(ctx context.Context, app *App) (*gcppublisher.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher, err = gcppublisher.New(client, app.cfg.PubSub.TopicName, map[string]string{"source": "prodscout"})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupGitHub(app *App) *github.Client {
	cfg := app.cfg.GitHub
	var retry discovery.RetryPolicy
	if cfg.MaxRetries > 0 {
		base, limit := app.cfg.RetryBackoff()
		retry = discovery.NewExponentialRetryPolicy(cfg.MaxRetries+1, base, limit)
	}
	if cfg.Token == "" {
		app.logger.Warn("no GitHub token configured; unauthenticated requests are heavily rate limited")
	}
	return github.New(github.Config{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.Token,
		UserAgent:   app.cfg.Fetch.UserAgent,
		Timeout:     app.cfg.GitHubTimeout(),
		PathTimeout: app.cfg.GitHubPathTimeout(),
		Retry:       retry,
		Limiter:     ratelimit.New(ratelimit.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}),
	}, app.logger)
}

func setupSearch(app *App) *search.Provider {
	cfg := app.cfg.Search
	var primary, fallback discovery.SearchBackend
	if cfg.SerpAPIKey != "" {
		primary = serpapi.New(serpapi.Config{
			APIKey:  cfg.SerpAPIKey,
			BaseURL: cfg.SerpAPIBaseURL,
			Engine:  cfg.Engine,
			Timeout: app.cfg.SearchTimeout(),
		})
		app.logger.Info("using SerpAPI search backend", zap.String("engine", cfg.Engine))
	} else {
		app.logger.Warn("no SerpAPI key configured; searches go straight to the fallback")
	}
	if cfg.FallbackEnabled {
		fallback = scrape.New(scrape.Config{
			SearchURL: cfg.FallbackURL,
			Selector:  cfg.FallbackSelector,
			UserAgent: app.cfg.Fetch.UserAgent,
			Timeout:   app.cfg.SearchTimeout(),
		})
	}
	app.searcher = search.NewProvider(search.Config{
		FallbackWorkers: cfg.FallbackWorkers,
		Hosts:           cfg.Hosts,
	}, primary, fallback, app.logger.Named("search"))
	return app.searcher
}

func setupPages(app *App) *fetcher.Page {
	cfg := app.cfg.Fetch
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       app.cfg.FetchTimeout(),
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.UserAgent))

	var (
		headless discovery.Fetcher
		detect   discovery.HeadlessDetector
	)
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: app.cfg.HeadlessTimeout(),
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, continuing without promotion", zap.Error(err))
		} else {
			app.headless = chrome
			headless = chrome
			detect = detector.NewHeuristic(cfg.Headless.MinBodyLength)
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	return fetcher.NewPage(fetcher.Config{
		Timeout: app.cfg.FetchTimeout(),
		Headers: map[string]string{"User-Agent": cfg.UserAgent},
	}, probe, headless, detect, app.logger.Named("fetcher"))
}

func setupAnalyzer(app *App) *analysis.Analyzer {
	cfg := app.cfg.Pipeline
	cloner := analysis.NewGitCloner(app.logger)
	cloner.Binary = cfg.GitBinary
	secrets := analysis.NewTrufflehog(app.logger)
	secrets.Binary = cfg.Trufflehog
	lint := analysis.NewBandit(app.logger)
	lint.Binary = cfg.Bandit
	return analysis.NewAnalyzer(analysis.Config{
		CloneDir:   cfg.CloneDir,
		KeepClones: cfg.KeepClones,
	}, cloner, secrets, lint, app.logger.Named("analysis"))
}

func setupProgress(app *App) (*progresssinks.Broadcast, error) {
	prom, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	broadcast := progresssinks.NewBroadcast(app.cfg.Progress.SubscriberBuffer)
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.BatchWait(),
		SinkTimeout:    app.cfg.SinkTimeout(),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		prom,
		broadcast,
	)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return broadcast, nil
}

// Execute runs one pipeline request in the foreground. Cancelling ctx stops
// the run at the next phase or repository boundary.
func (a *App) Execute(ctx context.Context, req pipeline.Request, sink pipeline.ProgressSink) (pipeline.Result, error) {
	res, err := a.orchestrator.Run(ctx, req, pipeline.Hooks{
		Progress:  sink,
		Cancelled: func() bool { return ctx.Err() != nil },
	})
	if err != nil {
		return res, fmt.Errorf("run pipeline: %w", err)
	}
	return res, nil
}

// Serve starts the HTTP API and blocks until ctx is cancelled, then drains
// in-flight runs and requests.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.runs.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("run manager shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.searcher != nil {
		a.searcher.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("repository store close failed", zap.Error(err))
		}
	}
}
