package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/lewiskimaru/lasomi-sub001/config"
	artifactrepo "github.com/lewiskimaru/lasomi-sub001/internal/repositories/artifact"
	jobrepo "github.com/lewiskimaru/lasomi-sub001/internal/repositories/job"
	ruleprofilerepo "github.com/lewiskimaru/lasomi-sub001/internal/repositories/ruleprofile"
	"github.com/lewiskimaru/lasomi-sub001/pkg/clustering"
	"github.com/lewiskimaru/lasomi-sub001/pkg/connectors"
	"github.com/lewiskimaru/lasomi-sub001/pkg/database"
	"github.com/lewiskimaru/lasomi-sub001/pkg/events"
	"github.com/lewiskimaru/lasomi-sub001/pkg/export"
	"github.com/lewiskimaru/lasomi-sub001/pkg/fetch"
	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/jobs"
	"github.com/lewiskimaru/lasomi-sub001/pkg/kafka"
	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/merging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/middleware"
	"github.com/lewiskimaru/lasomi-sub001/pkg/ratelimit"
	redisclient "github.com/lewiskimaru/lasomi-sub001/pkg/redis"
	healthroutes "github.com/lewiskimaru/lasomi-sub001/pkg/routes/health"
	jobroutes "github.com/lewiskimaru/lasomi-sub001/pkg/routes/job"
	ruleprofileroutes "github.com/lewiskimaru/lasomi-sub001/pkg/routes/ruleprofile"
	"github.com/lewiskimaru/lasomi-sub001/pkg/rules"
	"github.com/lewiskimaru/lasomi-sub001/pkg/startup"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing/exporters"
)

// dependency adapts a start/stop pair to the startup package.
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string                 { return d.name }
func (d *dependency) DependsOn() []string             { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.AppName, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled, failed to initialise exporter")
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	var dbCfg database.Config
	if err := ectoenv.BindEnv(&dbCfg); err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	var migrationCfg database.MigrationConfig
	if err := ectoenv.BindEnv(&migrationCfg); err != nil {
		return fmt.Errorf("failed to load migration config: %w", err)
	}

	var db database.DB
	var redisCli *redisclient.Client
	var producer *kafka.Producer

	boot := startup.New(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&dependency{
		name: "postgres",
		start: func(ctx context.Context) error {
			sqlxDB, err := database.Open(ctx, dbCfg, logger)
			if err != nil {
				return err
			}
			migrations := database.NewMigrationService(logger, &migrationCfg)
			if err := migrations.Migrate(dbCfg.Name, sqlxDB); err != nil {
				_ = sqlxDB.Close()
				return err
			}
			db = database.NewDatabaseInstance(sqlxDB, logger)
			return nil
		},
		stop: func(ctx context.Context) error { return db.Close() },
	})
	if cfg.RedisEnabled {
		boot.AddDependency(&dependency{
			name: "redis",
			start: func(ctx context.Context) error {
				cli, err := redisclient.NewClient(redisclient.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				redisCli = cli
				return nil
			},
			stop: func(ctx context.Context) error { return redisCli.Close() },
		})
	}
	if cfg.KafkaEnabled {
		boot.AddDependency(&dependency{
			name: "kafka",
			start: func(ctx context.Context) error {
				producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, logger)
				return nil
			},
			stop: func(ctx context.Context) error { return producer.Close() },
		})
	}
	if err := boot.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = boot.Stop(stopCtx)
	}()

	providerLimit := ratelimit.ProviderLimit{
		Requests:      int64(cfg.ProviderRequestsPerMinute),
		Window:        time.Minute,
		MaxConcurrent: cfg.ProviderMaxConcurrent,
	}
	var limiter ratelimit.Limiter
	if redisCli != nil {
		limiter = ratelimit.NewRedisLimiter(redisCli, logger, nil, providerLimit)
	} else {
		limiter = ratelimit.NewLocalLimiter(nil, providerLimit)
	}

	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	factory := connectors.NewFactory(logger, httpClient, connectors.Config{
		OSMEndpoint:       cfg.OSMEndpoint,
		MicrosoftEndpoint: cfg.MicrosoftEndpoint,
		GoogleEndpoint:    cfg.GoogleEndpoint,
		DefaultTimeout:    time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
	})

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.DefaultProviderTimeout = time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	fetchCfg.Retry.MaxAttempts = cfg.FetchRetryMaxAttempts
	orchestrator := fetch.NewOrchestrator(logger, factory, limiter, fetchCfg)

	mergeCfg := merging.DefaultConfig()
	mergeCfg.OverlapFraction = cfg.MergeOverlapFraction
	mergeCfg.CentroidDistanceM = cfg.MergeCentroidDistanceM
	merger := merging.NewEngine(logger, mergeCfg)

	clusterer := clustering.NewEngine(logger)
	ruleEngine := rules.NewEngine(logger)
	serializer := export.NewSerializer(logger)

	var emitter events.Emitter = events.NopEmitter{}
	if producer != nil {
		emitter = events.NewKafkaEmitter(producer, logger)
	}

	jobRepo := jobrepo.NewRepository(db, logger)
	artifactRepo := artifactrepo.NewRepository(db, logger)
	profileRepo := ruleprofilerepo.NewRepository(db, logger)
	store := jobs.NewRepositoryStore(jobRepo, artifactRepo)

	jobsCfg := jobs.DefaultConfig()
	jobsCfg.JobTimeout = cfg.JobTimeout
	jobsCfg.MaxAOIAreaKM2 = cfg.MaxAOIAreaKM2
	jobsCfg.DefaultMaxTenantsPerPoint = cfg.DefaultMaxTenantsPerPoint
	jobsCfg.DefaultMaxServiceRadiusM = cfg.DefaultMaxServiceRadiusM
	manager := jobs.NewManager(logger, store, profileRepo, orchestrator, merger, clusterer, ruleEngine, serializer, emitter, jobsCfg)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*jobs.Manager](container, manager); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*ruleprofilerepo.Repository](container, profileRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*rules.Engine](container, ruleEngine); err != nil {
		return err
	}

	var redisPinger healthroutes.Pinger
	if redisCli != nil {
		redisPinger = redisCli
	}
	checker := healthroutes.NewChecker(db, redisPinger, cfg.Version)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/healthz", checker.Live)
	e.GET("/readyz", checker.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	jobroutes.Register(api.Group("/jobs"))
	ruleprofileroutes.Register(api.Group("/rule-profiles"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]any{"port": cfg.Port}).Info("Starting HTTP server")
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	checker.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Job pipelines did not drain before shutdown deadline")
	}

	return nil
}
