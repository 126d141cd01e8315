package config

type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type LogSettings struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}
