package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

const defaultPendingTTL = 24 * time.Hour

// Config for a relay process. Defaults are loaded via envdecode.
type Config struct {
	// Addr to listen on. ENV: RELAY_ADDR
	Addr string `env:"RELAY_ADDR,default=:5000"`
	// MaxPending bounds the number of buffered messages. ENV: RELAY_MAX_PENDING
	MaxPending int `env:"RELAY_MAX_PENDING,default=10000"`
	// PendingTTL bounds how long a buffered message is kept. ENV: RELAY_PENDING_TTL
	PendingTTL time.Duration `env:"RELAY_PENDING_TTL,default=24h"`
	// MaxQueue bounds each connection's outbound queue. ENV: RELAY_MAX_QUEUE
	MaxQueue int `env:"RELAY_MAX_QUEUE,default=1024"`
	// WriteTimeout bounds a single socket write. ENV: RELAY_WRITE_TIMEOUT
	WriteTimeout time.Duration `env:"RELAY_WRITE_TIMEOUT,default=10s"`
	// PingInterval between keepalive pings; 0 disables. ENV: RELAY_PING_INTERVAL
	PingInterval time.Duration `env:"RELAY_PING_INTERVAL,default=30s"`
	// ReadLimit is the largest accepted frame in bytes. ENV: RELAY_READ_LIMIT
	ReadLimit int64 `env:"RELAY_READ_LIMIT,default=1048576"`
	// AuthSecret enables token admission when set. ENV: RELAY_AUTH_SECRET
	AuthSecret string `env:"RELAY_AUTH_SECRET"`
	// RedisAddr selects the Redis backlog when set. ENV: RELAY_REDIS_ADDR
	RedisAddr string `env:"RELAY_REDIS_ADDR"`
	// RedisPrefix for backlog keys. ENV: RELAY_REDIS_PREFIX
	RedisPrefix string `env:"RELAY_REDIS_PREFIX,default=wc:relay:"`
	// LogLevel is one of debug, info, warn, error. ENV: RELAY_LOG_LEVEL
	LogLevel string `env:"RELAY_LOG_LEVEL,default=info"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("relay: load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the relay cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("relay: listen address is required")
	case c.MaxPending < 0:
		return fmt.Errorf("relay: negative max pending %d", c.MaxPending)
	case c.MaxQueue < 0:
		return fmt.Errorf("relay: negative max queue %d", c.MaxQueue)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("relay: write timeout must be positive")
	}
	return nil
}
