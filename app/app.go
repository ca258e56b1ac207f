package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simshopapp/simshop/internal/cache"
	"github.com/simshopapp/simshop/internal/config"
	"github.com/simshopapp/simshop/internal/countries"
	"github.com/simshopapp/simshop/internal/crypto"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/email"
	"github.com/simshopapp/simshop/internal/esim"
	"github.com/simshopapp/simshop/internal/handlers"
	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/services"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := initSentry(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	countryTable, err := countries.LoadDefault()
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to load country table: %w", err)
	}

	orderStore := db.NewOrderStore(database)
	packageStore := db.NewPackageStore(database)
	settingsStore := db.NewSettingsStore(database, encryptor)

	settings, err := settingsStore.Get(startupCtx)
	if err != nil {
		// A fresh deployment has no admin_config row yet; boot anyway so the
		// settings can be written.
		if !errors.Is(err, pgx.ErrNoRows) {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to load admin settings: %w", err)
		}
		logger.Warn("admin settings are not configured yet")
		settings = &db.Settings{}
	}
	if settings.ProviderClientID == "" || settings.ProviderClientSecret == "" {
		logger.Warn("provider credentials are not configured, provisioning calls will fail")
	}

	providerAuth := esim.NewAuth(settings.ProviderClientID, settings.ProviderClientSecret, cfg.ProviderBaseURL)
	providerClient := esim.NewClient(
		providerAuth,
		cfg.ProviderBaseURL,
		time.Duration(cfg.ProviderTimeoutSeconds)*time.Second,
		logger.With("component", "esim_client"),
	)

	notifier := newNotifier(cfg, settings, logger)

	catalogService := services.NewCatalogService(packageStore, cacheProvider, logger.With("component", "catalog_service"))
	locator := services.NewOrderLocator(orderStore, logger.With("component", "order_locator"))
	resolver := services.NewLinkResolver(orderStore, cfg.BaseURL)
	fulfillment := services.NewFulfillmentService(
		orderStore,
		catalogService,
		providerClient,
		countryTable,
		notifier,
		resolver,
		logger.With("component", "fulfillment_service"),
	)
	webhooks := services.NewWebhookService(
		settingsStore,
		locator,
		fulfillment,
		resolver,
		cacheProvider,
		services.GatewayTestSecrets{
			PassOne: cfg.GatewayTestPassOne,
			PassTwo: cfg.GatewayTestPassTwo,
		},
		logger.With("component", "webhook_service"),
	)
	checkout := services.NewCheckoutService(
		orderStore,
		catalogService,
		settingsStore,
		cfg.GatewayURL,
		logger.With("component", "checkout_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:   cfg,
		DB:       database,
		Webhooks: webhooks,
		Checkout: checkout,
		Logger:   logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func initSentry(cfg *config.Config) error {
	if cfg.SentryDSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		EnableLogs:       true,
	})
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN != "" {
		sentryHandler := sentryslog.Option{
			EventLevel: []slog.Level{slog.LevelError},
			LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
		}.NewSentryHandler(context.Background())
		handler = logging.MultiHandler(handler, sentryHandler)
	}

	return slog.New(handler)
}

func newNotifier(cfg *config.Config, settings *db.Settings, logger *slog.Logger) services.Notifier {
	if cfg.ResendAPIKey == "" {
		logger.Info("email notifications disabled, no api key configured")
		return nil
	}

	from := settings.NotifyFromEmail
	if from == "" {
		from = cfg.EmailFrom
	}

	provider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     from,
	})
	if err != nil {
		logger.Warn("email notifications disabled", "error", err)
		return nil
	}
	return services.NewEmailNotifier(provider)
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
