package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/fulfillment/internal/di"
	"github.com/hanko-field/fulfillment/internal/handlers"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/platform/events"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/platform/metrics"
	"github.com/hanko-field/fulfillment/internal/platform/notify"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/platform/postgres"
	"github.com/hanko-field/fulfillment/internal/platform/requestctx"
	"github.com/hanko-field/fulfillment/internal/platform/secrets"
	"github.com/hanko-field/fulfillment/internal/repositories"
	pgrepo "github.com/hanko-field/fulfillment/internal/repositories/postgres"
	redisrepo "github.com/hanko-field/fulfillment/internal/repositories/redis"
	"github.com/hanko-field/fulfillment/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Database.URL", "Redis.URL"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var promMetrics *metrics.Metrics
	if cfg.Features.EnableMetrics {
		promMetrics = metrics.New(cfg.Metrics.Namespace)
	}

	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	if cfg.Database.AutoMigrate {
		if err := pgrepo.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to apply schema migrations", zap.Error(err))
		}
	}

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}()

	cartRepo, err := redisrepo.NewCartRepository(redisClient,
		redisrepo.WithCartKeyPrefix(cfg.Redis.CartKeyPrefix),
		redisrepo.WithCartTTL(cfg.Redis.CartTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(pool, redisClient, fetcher, envValues))
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := pgrepo.NewRegistry(pool, cartRepo, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	infra := di.Infrastructure{
		Logger:               logger,
		Build:                buildInfo,
		OptionalHealthChecks: []string{"secret_manager"},
	}
	if promMetrics != nil {
		infra.Metrics = promMetrics
	}

	pubsubClient, publisher, err := newOrderEventPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	if publisher != nil {
		infra.Events = publisher
		defer func() {
			publisher.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("pubsub project not configured; order events will not be published")
	}

	notifier, err := notify.Open(ctx, cfg.Notifications, logger.Named("notify"))
	if err != nil {
		logger.Fatal("failed to initialise admin notifier", zap.Error(err))
	}
	infra.Notifier = notifier
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("notifier close error", zap.Error(err))
		}
	}()

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	var authMetrics auth.MetricsRecorder
	authOpts := []auth.Option{}
	if promMetrics != nil {
		authMetrics = promMetrics
		authOpts = append(authOpts, auth.WithAuthMetrics(promMetrics))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, authOpts...)

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, authMetrics)

	idempotencyStore, err := idempotency.NewRedisStore(redisClient, cfg.Redis.IdempotencyKeyPrefix)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, oidcMiddleware, svc.Orders, svc.OrderCreation).
		WithIdempotency(idempotencyMiddleware)
	discountHandlers := handlers.NewDiscountHandlers(authenticator, oidcMiddleware, svc.Discounts).
		WithIdempotency(idempotencyMiddleware)
	inventoryHandlers := handlers.NewInventoryHandlers(authenticator, svc.Inventory)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Inventory, svc.Orders).
		WithIdempotency(idempotencyMiddleware)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithDiscountRoutes(discountHandlers.Routes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if promMetrics != nil {
		middlewares = append(middlewares, promMetrics.Middleware)
		opts = append(opts, handlers.WithMetricsHandler(promMetrics.Handler()))
	}
	opts = append(opts, handlers.WithMiddlewares(middlewares...))

	router := handlers.NewRouter(opts...)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting http server", zap.String("addr", server.Addr), zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func dependencyChecks(pool *pgxpool.Pool, client goredis.UniversalClient, fetcher *secrets.Fetcher, env map[string]string) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{Name: "postgres", Check: postgres.HealthCheck(pool)},
		{Name: "redis", Check: redisrepo.HealthCheck(client)},
	}
	if ref := strings.TrimSpace(env["API_HEALTH_SECRET_REF"]); ref != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secret_manager",
			Timeout: 3 * time.Second,
			Check:   fetcher.HealthCheck(ref),
		})
	}
	return checks
}

func newOrderEventPublisher(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, *events.PubSubOrderEventPublisher, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, nil, nil
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher, err := events.NewPubSubOrderEventPublisher(client.Topic(cfg.OrderEventsTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, publisher, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validatorOpts := []auth.OIDCOption{auth.WithOIDCLogger(logger)}
	if recorder != nil {
		validatorOpts = append(validatorOpts, auth.WithOIDCMetrics(recorder))
	}
	validator := auth.NewOIDCValidator(cache, validatorOpts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firebase.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// parseKeyValueList parses "env=project,env2=project2".
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
