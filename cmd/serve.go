package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/mgmt/internal/adapter/vault"
	"github.com/xiaot623/gogo/mgmt/internal/certs"
	"github.com/xiaot623/gogo/mgmt/internal/config"
	"github.com/xiaot623/gogo/mgmt/internal/repository"
	"github.com/xiaot623/gogo/mgmt/internal/runner"
	"github.com/xiaot623/gogo/mgmt/internal/service"
	transport "github.com/xiaot623/gogo/mgmt/internal/transport/http"
	"github.com/xiaot623/gogo/mgmt/policy"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the management receiver",
		Args:    cobra.NoArgs,
		RunE:    ServeHandler,
	}
	serveCmd.Flags().Int("port", 0, "Listen port (default $HTTP_PORT)")
	return serveCmd
}

// ServeHandler runs the receiver until the command context is cancelled.
func ServeHandler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.HTTPPort = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return serve(cmd.Context(), cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting management receiver",
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"mtls_required", cfg.MTLSRequired,
		"script_dir", cfg.ScriptDir)

	// Initialize store
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// TLS material, when configured
	var reloader *certs.Reloader
	if cfg.HasServerCerts() {
		reloader, err = certs.NewReloader(cfg.MTLSServerCertPath, cfg.MTLSServerKeyPath, cfg.MTLSCAPath)
		if err != nil {
			return fmt.Errorf("failed to load TLS material: %w", err)
		}
	}

	vaultClient, err := vault.NewClient(cfg.VaultAddr, cfg.VaultToken)
	if err != nil {
		return err
	}
	var secrets certs.SecretReader
	if vaultClient.Configured() {
		secrets = vaultClient
	}
	rotator := certs.NewRotator(secrets, cfg.VaultCertPath,
		cfg.MTLSServerKeyPath, cfg.MTLSServerCertPath, cfg.MTLSCAPath, reloader)

	// Initialize service
	svc := service.New(store, policyEngine, runner.New(cfg.ScriptDir, cfg.ScriptTimeout), rotator, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           transport.NewServer(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if reloader != nil {
		srv.TLSConfig = reloader.TLSConfig()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if reloader != nil {
			logger.Info("management API listening with TLS", "addr", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			logger.Info("management API listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down management receiver")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown gracefully", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("management receiver stopped")
	return nil
}
