// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable for the drainq service binary. All knobs
// default to the production values carried by the notification family.
type Config struct {
	Addr        string `env:"DRAINQ_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DRAINQ_DATABASE_DSN" envDefault:"drainq.db"`

	Family      string        `env:"DRAINQ_FAMILY" envDefault:"notifications"`
	MaxAttempts int           `env:"DRAINQ_MAX_ATTEMPTS" envDefault:"5"`
	BatchSize   int           `env:"DRAINQ_BATCH_SIZE" envDefault:"10"`
	BackoffBase time.Duration `env:"DRAINQ_BACKOFF_BASE" envDefault:"30s"`
	BackoffCap  time.Duration `env:"DRAINQ_BACKOFF_CAP" envDefault:"15m"`

	LeaseTTL   time.Duration `env:"DRAINQ_LEASE_TTL" envDefault:"3m"`
	TimerSpec  string        `env:"DRAINQ_TIMER_SPEC" envDefault:"@every 1m"`
	StaleAfter time.Duration `env:"DRAINQ_STALE_AFTER" envDefault:"10m"`

	BreakerFailureThreshold int           `env:"DRAINQ_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerSuccessThreshold int           `env:"DRAINQ_BREAKER_SUCCESS_THRESHOLD" envDefault:"2"`
	BreakerTimeout          time.Duration `env:"DRAINQ_BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerWindow           time.Duration `env:"DRAINQ_BREAKER_WINDOW" envDefault:"60s"`

	SendMaxAttempts    int           `env:"DRAINQ_SEND_MAX_ATTEMPTS" envDefault:"3"`
	SendInitialBackoff time.Duration `env:"DRAINQ_SEND_INITIAL_BACKOFF" envDefault:"1s"`
	SendMaxBackoff     time.Duration `env:"DRAINQ_SEND_MAX_BACKOFF" envDefault:"4s"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
