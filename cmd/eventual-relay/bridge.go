package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/broker"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
	"github.com/zoff-tech/go-eventual/pkg/processor"
	"github.com/zoff-tech/go-eventual/pkg/store"
)

func newBridgeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Consume a Kafka topic and forward every new event to the broker",
		Long: "bridge deduplicates inbound events through the inbox. Handling an event writes it " +
			"to the outbox in the same transaction, and the outbox relay publishes it.",
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

			sub, err := broker.NewKafkaSubscriber(rt.cfg.Relay.Inbound, rt.log)
			if err != nil {
				return err
			}
			defer sub.Close()

			srv := newOpsServer(prometheus.NewRegistry(), rt.log)
			srv.start(rt.cfg.Observability.MetricsAddr)

			outbox := processor.NewOutboxProcessor(repo.Send, b, rt.cfg, rt.log)
			inbox := processor.NewInboxProcessor(repo.Receive, repo.Schedule, forwardTo(repo.Send), rt.cfg, rt.log)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				outbox.ProcessEvents(ctx)
			}()
			go func() {
				defer wg.Done()
				inbox.RunRedelivery(ctx)
			}()

			rt.log.Info("Bridge started", zap.String("topic", rt.cfg.Relay.Inbound.Topic))
			runErr := sub.Run(ctx, inbox.Receive)

			stop()
			wg.Wait()

			rt.log.Info("Stopping bridge")
			shutdownCtx, cancel := rt.shutdownContext()
			defer cancel()
			waitOrTimeout(shutdownCtx, outbox.Wait, rt.log)
			srv.shutdown(shutdownCtx)

			if runErr != nil && ctx.Err() == nil {
				return fmt.Errorf("consume: %w", runErr)
			}
			return nil
		},
	}
}

// forwardTo handles an inbound event by writing it to the outbox within the
// completing work unit.
func forwardTo(send eventual.EventSendStore) processor.Handler {
	return func(ctx context.Context, payload eventual.EventPayload) error {
		return send.WriteEventToSendSoon(ctx, payload.Body, nil)
	}
}
