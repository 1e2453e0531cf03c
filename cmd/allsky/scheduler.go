package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/system"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the capture loop with the status API",
	RunE:  runScheduler,
}

func init() {
	schedulerCmd.Flags().Bool("no-server", false, "Do not start the HTTP and gRPC servers")
	schedulerCmd.Flags().Int("http-port", 8080, "HTTP port for the status API")
	viper.BindPFlag("server.http_port", schedulerCmd.Flags().Lookup("http-port"))
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		cfg.Server.Enabled = false
	}

	logger.Info("Config loaded successfully", zap.String("path", configPath))

	ctx := cmd.Context()

	lifecycle := system.NewLifecycleManager(cfg, system.Components{}, logger)
	if err := lifecycle.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		lifecycle.Shutdown(shutdownCtx)
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}
