package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/campuskitchen/dinehall/internal/gateway/zarinpal"
	"github.com/campuskitchen/dinehall/internal/httpapi"
	"github.com/campuskitchen/dinehall/internal/jobs"
	"github.com/campuskitchen/dinehall/internal/notify"
	"github.com/campuskitchen/dinehall/internal/store/gormstore"
	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagMerchantID        = "merchant-id"
	flagGatewayBaseURL    = "gateway-base-url"
	flagCallbackURL       = "callback-url"
	flagSMSEndpoint       = "sms-endpoint"
	flagSMSAPIKey         = "sms-api-key"
	flagReconcileInterval = "reconcile-interval"
	flagExpiryInterval    = "expiry-interval"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyMerchantID        = "merchant_id"
	configKeyGatewayBaseURL    = "gateway_base_url"
	configKeyCallbackURL       = "callback_url"
	configKeySMSEndpoint       = "sms_endpoint"
	configKeySMSAPIKey         = "sms_api_key"
	configKeyReconcileInterval = "reconcile_interval"
	configKeyExpiryInterval    = "expiry_interval"

	defaultDatabaseURL    = "sqlite:///tmp/dinehall.db"
	defaultListenAddr     = ":8080"
	defaultGatewayBaseURL = "https://payment.zarinpal.com"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	MerchantID        string
	GatewayBaseURL    string
	CallbackURL       string
	SMSEndpoint       string
	SMSAPIKey         string
	ReconcileInterval time.Duration
	ExpiryInterval    time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dinehalld: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "dinehalld",
		Short:         "Meal reservation and payment consistency server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma separated CORS origins")
	cmd.Flags().String(flagMerchantID, "", "payment gateway merchant id")
	cmd.Flags().String(flagGatewayBaseURL, defaultGatewayBaseURL, "payment gateway base URL")
	cmd.Flags().String(flagCallbackURL, "", "public URL of the payment callback endpoint")
	cmd.Flags().String(flagSMSEndpoint, "", "SMS provider endpoint for pickup notifications")
	cmd.Flags().String(flagSMSAPIKey, "", "SMS provider API key")
	cmd.Flags().Duration(flagReconcileInterval, time.Minute, "payment reconciliation interval")
	cmd.Flags().Duration(flagExpiryInterval, time.Minute, "reservation expiry sweep interval")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "LISTEN_ADDR",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeyMerchantID:        "ZARINPAL_MERCHANT_ID",
		configKeyGatewayBaseURL:    "ZARINPAL_BASE_URL",
		configKeyCallbackURL:       "PAYMENT_CALLBACK_URL",
		configKeySMSEndpoint:       "SMS_ENDPOINT",
		configKeySMSAPIKey:         "SMS_API_KEY",
		configKeyReconcileInterval: "RECONCILE_INTERVAL",
		configKeyExpiryInterval:    "EXPIRY_INTERVAL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeyMerchantID:        flagMerchantID,
		configKeyGatewayBaseURL:    flagGatewayBaseURL,
		configKeyCallbackURL:       flagCallbackURL,
		configKeySMSEndpoint:       flagSMSEndpoint,
		configKeySMSAPIKey:         flagSMSAPIKey,
		configKeyReconcileInterval: flagReconcileInterval,
		configKeyExpiryInterval:    flagExpiryInterval,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.MerchantID = viper.GetString(configKeyMerchantID)
	cfg.GatewayBaseURL = viper.GetString(configKeyGatewayBaseURL)
	if cfg.GatewayBaseURL == "" {
		cfg.GatewayBaseURL = defaultGatewayBaseURL
	}
	cfg.CallbackURL = viper.GetString(configKeyCallbackURL)
	cfg.SMSEndpoint = viper.GetString(configKeySMSEndpoint)
	cfg.SMSAPIKey = viper.GetString(configKeySMSAPIKey)
	cfg.ReconcileInterval = viper.GetDuration(configKeyReconcileInterval)
	cfg.ExpiryInterval = viper.GetDuration(configKeyExpiryInterval)

	if cfg.MerchantID == "" {
		return fmt.Errorf("merchant id is required")
	}
	if cfg.CallbackURL == "" {
		return fmt.Errorf("callback url is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormstore.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := gormstore.New(gormDB)

	gateway, err := zarinpal.New(zarinpal.Config{
		BaseURL:    cfg.GatewayBaseURL,
		MerchantID: cfg.MerchantID,
	}, logger)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	policy := reserve.DefaultPolicy()
	nowFn := func() time.Time { return time.Now().UTC() }

	reservationOptions := []reserve.ServiceOption{
		reserve.WithOperationLogger(reserve.NewZapOperationLogger(logger)),
	}
	if cfg.SMSEndpoint != "" {
		notifier, notifierErr := notify.New(notify.Config{
			Endpoint: cfg.SMSEndpoint,
			APIKey:   cfg.SMSAPIKey,
		}, logger)
		if notifierErr != nil {
			return fmt.Errorf("notifier init: %w", notifierErr)
		}
		reservationOptions = append(reservationOptions, reserve.WithNotifier(notifier))
	}

	reservations, err := reserve.NewReservationService(store, policy, nowFn, reservationOptions...)
	if err != nil {
		return fmt.Errorf("reservation service init: %w", err)
	}
	payments, err := reserve.NewPaymentService(store, gateway, policy, nowFn,
		reserve.WithOperationLogger(reserve.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}
	reconciler, err := reserve.NewReconciler(store, gateway, payments, policy, nowFn, logger)
	if err != nil {
		return fmt.Errorf("reconciler init: %w", err)
	}
	reaper, err := reserve.NewExpiryReaper(store, policy, nowFn, logger)
	if err != nil {
		return fmt.Errorf("reaper init: %w", err)
	}

	runner, err := jobs.New(jobs.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		ExpiryInterval:    cfg.ExpiryInterval,
	}, reconciler, reaper, logger)
	if err != nil {
		return fmt.Errorf("jobs init: %w", err)
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("jobs start: %w", err)
	}
	defer func() {
		if stopErr := runner.Stop(); stopErr != nil {
			logger.Warn("job runner stop", zap.Error(stopErr))
		}
	}()

	server, err := httpapi.New(httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		CallbackURL:    cfg.CallbackURL,
	}, httpapi.Dependencies{
		Reservations: reservations,
		Payments:     payments,
		Reconciler:   reconciler,
		Menu:         store,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "dinehall.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
