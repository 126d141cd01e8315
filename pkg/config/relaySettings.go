package config

import "time"

// RelaySettings drives the outbox and inbox processors.
type RelaySettings struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	RedeliveryInterval time.Duration `mapstructure:"redelivery_interval" validate:"gte=0"`
	// Topic overrides the destination; when empty the event subject is used.
	Topic     string `mapstructure:"topic"`
	Guarantee string `mapstructure:"guarantee" validate:"omitempty,oneof=no_guarantee at_most_once at_least_once exactly_once"`
	// MaxInFlight bounds the outbox sends running at once.
	MaxInFlight int           `mapstructure:"max_in_flight" validate:"gte=0"`
	Inbound     KafkaInbound  `mapstructure:"inbound"`
	Shutdown    time.Duration `mapstructure:"shutdown_timeout"`
}

// KafkaInbound configures the topic the bridge consumes.
type KafkaInbound struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}
