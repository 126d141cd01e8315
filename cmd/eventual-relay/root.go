package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/logger"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "eventual-relay",
		Short:         "Relay outbox and inbox events between a database and a broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", ".", "directory holding relay.yaml")

	root.AddCommand(
		newOutboxCmd(&cfgPath),
		newBridgeCmd(&cfgPath),
		newMigrateCmd(&cfgPath),
	)
	return root
}

// runtime is what every long-running command needs before it starts.
type runtime struct {
	cfg      *config.Settings
	log      *zap.Logger
	shutdown func()
}

func setup(cfgPath string) (*runtime, error) {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Observability, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return &runtime{
		cfg: cfg,
		log: log,
		shutdown: func() {
			shutdownTelemetry()
			_ = log.Sync()
		},
	}, nil
}

// shutdownContext bounds the time left for draining after a stop signal.
func (r *runtime) shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.Relay.Shutdown)
}
