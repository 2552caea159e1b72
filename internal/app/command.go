package app

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conduit/internal/config"
	"github.com/shaiso/Conduit/internal/telemetry"
)

// RunFunc — тело процесса. ctx отменяется по SIGINT/SIGTERM.
type RunFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error

// NewServerCmd создаёт корневую команду процесса conduit-*.
// Флаг --config задаёт путь к файлу конфигурации.
func NewServerCmd(name, short, version string, run RunFunc) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          name,
		Short:        short,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := telemetry.SetupLogger(telemetry.LogOptions{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
			}).With("service", name)
			logger.Info("starting " + name)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error(name+" failed", "error", err)
				return err
			}

			logger.Info(name + " stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default: conduit.yaml lookup)")
	return cmd
}
