package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazz-dev/beacon/internal/alert"
	"github.com/hazz-dev/beacon/internal/config"
	"github.com/hazz-dev/beacon/internal/control"
	"github.com/hazz-dev/beacon/internal/logging"
	"github.com/hazz-dev/beacon/internal/probe"
	"github.com/hazz-dev/beacon/internal/registry"
	"github.com/hazz-dev/beacon/internal/server"
	"github.com/hazz-dev/beacon/internal/storage"
	"github.com/hazz-dev/beacon/internal/version"
)

var (
	cfgFile    string
	serverAddr string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "beacon",
		Short:        "Healthcheck monitor with a runtime control API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "beacon.yml", "config file path")
	root.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8080", "address of a running beacon server (client commands)")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(clientCommands()...)

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beacon %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the healthcheck engine and control API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	// 2. Open SQLite. An unreachable store on boot is fatal.
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 3. Build registry and control service
	reg := registry.New(db, probe.NewFactory(cfg.Scripts.Dir), log)
	if cfg.Alerts.Webhook.URL != "" {
		reg.SetOnResult(alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, log).Notify)
	}
	ctrl := control.New(db, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 4. Reconcile: every enabled check starts before traffic is accepted.
	if err := ctrl.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling enabled checks: %w", err)
	}

	// 5. Serve the control API until a signal arrives.
	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.New(ctrl, db, log).Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown", zap.Error(err))
		}

		// Stop all check tasks and wait for in-flight executions to drain.
		reg.Close()
		return nil
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
