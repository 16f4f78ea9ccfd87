package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/internal/healthserver"
	"github.com/MarkoPoloResearchLab/berth/internal/httpapi"
	"github.com/MarkoPoloResearchLab/berth/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/berth/internal/store/pgstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the gRPC health endpoint",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg, true)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newMigrateCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("database ping: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
	addDatabaseFlags(cmd)
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	wallet, closeWallet, err := openWallet(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWallet()

	services, err := httpapi.WireServices(cfg, httpapi.Wiring{
		Store:      store,
		Wallet:     wallet,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
		Now:        time.Now,
	})
	if err != nil {
		return err
	}
	handler, err := httpapi.NewHandler(cfg, services, logger, time.Now)
	if err != nil {
		return err
	}
	validator, err := httpapi.NewSessionValidator(cfg)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(cfg, handler, validator)

	health, err := healthserver.New(store, logger)
	if err != nil {
		return err
	}
	healthListener, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg, router, logger)
	})
	group.Go(func() error {
		if err := health.Start(groupCtx, cfg.HealthPollInterval); err != nil {
			_ = healthListener.Close()
			return err
		}
		return health.Serve(groupCtx, healthListener)
	})
	logger.Info("berth started",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("health_addr", cfg.HealthAddr),
		zap.String("timezone", cfg.Location().String()),
	)
	return group.Wait()
}

// openStore opens the database, migrates the schema and returns the store.
func openStore(ctx context.Context, cfg config.Config) (*gormstore.Store, func() error, error) {
	db, cleanup, _, err := gormstore.Open(cfg.DatabaseURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(db, gormstore.WithLocation(cfg.Location())), cleanup, nil
}

// openWallet returns a pgx balance provider for Postgres databases and nil
// otherwise, in which case the gorm store keeps the balances.
func openWallet(ctx context.Context, cfg config.Config) (httpapi.Wallet, func(), error) {
	driver, _, err := gormstore.ResolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if driver != gormstore.DriverPostgres {
		return nil, func() {}, nil
	}
	pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.New(pool), pool.Close, nil
}
