package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/broker"
	"github.com/zoff-tech/go-eventual/pkg/processor"
	"github.com/zoff-tech/go-eventual/pkg/store"
)

func newOutboxCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "Publish written outbox events to the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := store.NewRepository(ctx, rt.cfg.Database, rt.cfg.Schedule)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer repo.Close()

			b, err := broker.NewBroker(ctx, &rt.cfg.Broker, rt.log)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}
			defer b.Close()

			srv := newOpsServer(prometheus.NewRegistry(), rt.log)
			srv.start(rt.cfg.Observability.MetricsAddr)

			outbox := processor.NewOutboxProcessor(repo.Send, b, rt.cfg, rt.log)
			rt.log.Info("Outbox relay started",
				zap.String("database", rt.cfg.Database.Type),
				zap.String("broker", rt.cfg.Broker.Type),
				zap.Duration("poll_interval", rt.cfg.Relay.PollInterval))

			outbox.ProcessEvents(ctx)

			rt.log.Info("Stopping outbox relay")
			shutdownCtx, cancel := rt.shutdownContext()
			defer cancel()
			waitOrTimeout(shutdownCtx, outbox.Wait, rt.log)
			srv.shutdown(shutdownCtx)
			return nil
		},
	}
}

// waitOrTimeout runs wait and gives up once ctx is done.
func waitOrTimeout(ctx context.Context, wait func(), log *zap.Logger) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Shutdown timed out with sends in flight")
	}
}
