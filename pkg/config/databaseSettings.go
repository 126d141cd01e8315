package config

import "time"

// DbSettings selects and tunes the durable store.
type DbSettings struct {
	Type            string        `mapstructure:"type" validate:"required,oneof=postgres pgx mysql spanner"`
	DSN             string        `mapstructure:"dsn" validate:"required_unless=Type spanner"`
	URI             string        `mapstructure:"uri" validate:"required_if=Type spanner"` // Spanner database path
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

// ScheduleSettings configures the redelivery schedule.
type ScheduleSettings struct {
	// ClaimDurationSeconds is how long a claim keeps an entry from being due again.
	ClaimDurationSeconds float64 `mapstructure:"claim_duration" validate:"gte=0"`
}

// ClaimDuration converts the configured seconds to a duration.
func (s ScheduleSettings) ClaimDuration() time.Duration {
	return time.Duration(s.ClaimDurationSeconds * float64(time.Second))
}
