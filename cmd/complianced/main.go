package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/fuelledger/internal/config"
	"github.com/MarkoPoloResearchLab/fuelledger/internal/healthserver"
	"github.com/MarkoPoloResearchLab/fuelledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/fuelledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/fuelledger/internal/seed"
	"github.com/MarkoPoloResearchLab/fuelledger/pkg/compliance"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "complianced: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "complianced",
		Short:         "Fuel compliance pooling and banking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			*cfg = loaded
			return nil
		},
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newSeedCommand(cfg),
	)
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *cfg)
		},
	}
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cleanup, driver, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := prepareSchema(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", driver)
			return nil
		},
	}
}

func newSeedCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace all data with the reference routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closeStore, err := openStore(cmd.Context(), *cfg, true)
			if err != nil {
				return err
			}
			defer closeStore()

			service, err := newComplianceService(store, *cfg, logger)
			if err != nil {
				return err
			}
			routes := seed.DefaultRoutes()
			if err := service.SeedRoutes(cmd.Context(), routes); err != nil {
				return fmt.Errorf("seed routes: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d routes\n", len(routes))
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(ctx, cfg, cfg.AutoMigrate)
	if err != nil {
		return err
	}
	defer closeStore()

	service, err := newComplianceService(store, cfg, logger)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(service, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	health := healthserver.New(logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return health.Serve(groupCtx, lis)
	})
	group.Go(func() error {
		health.SetServing(true)
		defer health.SetServing(false)
		return httpapi.Serve(groupCtx, cfg.ListenAddr, router, logger)
	})
	logger.Info("complianced started",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("grpc_listen_addr", cfg.GRPCListenAddr),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("target_intensity", cfg.Target().String()),
	)
	err = group.Wait()
	logger.Info("shutdown complete")
	return err
}

func newComplianceService(store compliance.Store, cfg config.Config, logger *zap.Logger) (*compliance.Service, error) {
	clock := func() time.Time { return time.Now().UTC() }
	service, err := compliance.NewService(store, clock,
		compliance.WithOperationLogger(oplog.New(logger)),
		compliance.WithTargetIntensity(cfg.Target()),
	)
	if err != nil {
		return nil, fmt.Errorf("compliance service init: %w", err)
	}
	return service, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(cfg.Level())
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}
