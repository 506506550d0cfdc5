package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/marketpay/internal/adapter/driven/memlock"
	redisadapter "github.com/ericfisherdev/marketpay/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/marketpay/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/marketpay/internal/adapter/driven/square"
	"github.com/ericfisherdev/marketpay/internal/adapter/driven/stripe"
	httphandler "github.com/ericfisherdev/marketpay/internal/adapter/driving/http"
	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/config"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"environment", cfg.Environment,
		"app_base_url", cfg.AppBaseURL,
		"redis", cfg.RedisAddr != "",
		"scan_interval", cfg.ScanInterval,
	)
	warnMissingSettings(cfg)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "version", version)

	// 5. Wire stores.
	vendorStore := sqliteadapter.NewVendorRepo(db)
	connStore := sqliteadapter.NewConnectionRepo(db, cfg.SecretKey)
	orderStore := sqliteadapter.NewOrderRepo(db)

	// 6. Ephemeral state and the exchange lock live in Redis when configured,
	// otherwise in SQLite and process memory.
	var (
		ephemeral driven.EphemeralStore
		locker    driven.Locker
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisadapter.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("error closing redis", "error", closeErr)
			}
		}()
		ephemeral = redisadapter.NewEphemeralStore(rdb)
		locker = redisadapter.NewLocker(rdb, slog.Default())
		slog.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		ephemeral = sqliteadapter.NewEphemeralRepo(db)
		locker = memlock.New()
		slog.Info("no redis configured, using sqlite ephemeral store and in-process lock")
	}

	// 7. Payment provider clients. SIGHUP re-reads configuration and swaps in
	// clients built from the new credentials.
	providers := application.NewProviderRegistry(newProviderClients(cfg)...)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go watchReload(ctx, hup, providers)

	// 8. Application services.
	connSvc := application.NewConnectionService(application.ConnectionDeps{
		Vendors:         vendorStore,
		Connections:     connStore,
		Providers:       providers,
		States:          application.NewStateCodec(cfg.StateSigningKey),
		Ephemeral:       ephemeral,
		Locker:          locker,
		StoreTimeout:    cfg.StoreTimeout,
		ProviderTimeout: cfg.ProviderTimeout,
		Logger:          slog.Default(),
	})
	paySvc := application.NewPaymentService(application.PaymentDeps{
		Orders:       orderStore,
		Gate:         application.NewPaymentGate(connStore, cfg.StoreTimeout),
		Providers:    providers,
		Ephemeral:    ephemeral,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       slog.Default(),
	})
	reconciler := application.NewReconciler(vendorStore, connStore, cfg.StoreTimeout, slog.Default())

	// 9. HTTP handler, with the mismatch report served by the optional
	// report-only drift scan when it runs.
	apiHandler := httphandler.NewHandler(connSvc, paySvc, reconciler, cfg.AppBaseURL, cfg.AdminKey, slog.Default())
	if cfg.ScanInterval > 0 {
		scanSvc := application.NewScanService(reconciler, cfg.ScanInterval, slog.Default())
		go scanSvc.Start(ctx)
		apiHandler.UseScanService(scanSvc)
	}

	// 10. HTTP server.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewRouter(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("marketpay started", "listen_addr", cfg.ListenAddr, "environment", cfg.Environment)

	// 11. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newProviderClients builds one client per supported provider from cfg.
func newProviderClients(cfg *config.Config) []driven.PaymentProvider {
	return []driven.PaymentProvider{
		square.NewClient(square.Config{
			ClientID:     cfg.Square.ClientID,
			ClientSecret: cfg.Square.Secret,
			RedirectURL:  cfg.RedirectURL("square"),
			Production:   cfg.IsProduction(),
			Timeout:      cfg.ProviderTimeout,
		}, slog.Default()),
		stripe.NewClient(stripe.Config{
			ClientID:    cfg.Stripe.ClientID,
			SecretKey:   cfg.Stripe.Secret,
			RedirectURL: cfg.RedirectURL("stripe"),
			Timeout:     cfg.ProviderTimeout,
		}, slog.Default()),
	}
}

// watchReload reloads provider clients on every signal until ctx ends.
func watchReload(ctx context.Context, signals <-chan os.Signal, providers *application.ProviderRegistry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if err := reloadProviders(providers, config.Load); err != nil {
				slog.Error("provider reload failed; keeping current clients", "error", err)
			}
		}
	}
}

// reloadProviders swaps in clients built from freshly loaded configuration.
// Only provider credentials change; other settings need a restart.
func reloadProviders(providers *application.ProviderRegistry, load func() (*config.Config, error)) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	for _, client := range newProviderClients(cfg) {
		providers.Replace(client)
		slog.Info("provider client reloaded", "provider", client.Name())
	}
	warnMissingSettings(cfg)
	return nil
}

// warnMissingSettings logs settings whose absence only surfaces at request time.
func warnMissingSettings(cfg *config.Config) {
	missing := map[string]bool{
		"MARKETPAY_SECRET_KEY":        cfg.SecretKey == nil,
		"MARKETPAY_STATE_SIGNING_KEY": cfg.StateSigningKey == nil,
		"MARKETPAY_ADMIN_KEY":         cfg.AdminKey == "",
		"APP_BASE_URL":                cfg.AppBaseURL == "",
		"SQUARE_CLIENT_ID":            cfg.Square.ClientID == "",
		"STRIPE_CLIENT_ID":            cfg.Stripe.ClientID == "",
	}
	for setting, absent := range missing {
		if absent {
			slog.Warn("setting not configured; dependent requests will fail", "setting", setting)
		}
	}
}
