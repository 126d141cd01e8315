package broker

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"go.uber.org/zap"
)

func NewBroker(ctx context.Context, cfg *config.BrokerSettings, log *zap.Logger) (MessageBroker, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, cfg, log)
	case "gcp-pubsub":
		return NewPubSubClient(ctx, cfg)
	case "kafka":
		return NewKafkaBroker(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
