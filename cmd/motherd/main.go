// Command motherd runs the Mother Agent: interactive turns from the terminal,
// asynchronous turn jobs through the configured queue, and the worker pool
// that drains them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"Mother-Agent/internal/config"
	"Mother-Agent/pkg/logger"
)

var (
	version    = "0.1.0"
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Sprint("motherd: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "motherd",
		Short:         "Mother Agent: tool-using conversation loop with confirmation gates and plans",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return logger.Init(loggerConfig(cfg.Logging))
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $MOTHER_CONFIG or configs/mother.json)")

	root.AddCommand(
		serveCmd(),
		askCmd(),
		planCmd(),
		submitCmd(),
		jobCmd(),
		toolsCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join("configs", "mother.json")
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadOrDefault(path, wd)
}

func loggerConfig(c config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.Outputs,
		Audit: logger.AuditConfig{
			Enabled: c.Audit.Enabled,
			Path:    c.Audit.Path,
			RotationConfig: logger.RotationConfig{
				MaxSizeMB:  c.Audit.MaxSizeMB,
				MaxBackups: c.Audit.MaxBackups,
				MaxAgeDays: c.Audit.MaxAgeDays,
			},
		},
	}
}
