package config

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	Type      string   `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub kafka"`
	URL       string   `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange  string   `mapstructure:"exchange"`
	ProjectID string   `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"` // Optional for brokers other than GCP Pub/Sub
	PoolSize  int      `mapstructure:"pool_size" validate:"gte=0"`
	Brokers   []string `mapstructure:"brokers" validate:"required_if=Type kafka"`
}
