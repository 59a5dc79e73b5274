// Package config loads runtime configuration for the sync hub from the
// environment, the way ws/config.go does it for the teacher's WebSocket
// servers.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-tunable knob the hub reads at startup.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if unset
type Config struct {
	// Listener
	Port     int    `env:"PORT" envDefault:"3000"`
	Hostname string `env:"HOSTNAME" envDefault:"localhost"`

	// Fan-out / KV backend. Empty URL selects the standalone in-process port.
	KVURL string `env:"REDIS_URL" envDefault:""`

	// InstanceID tags log lines and User.instance; defaults to instance-{pid}
	// when unset, computed in Load rather than via envDefault since it is
	// not a static string.
	InstanceID string `env:"INSTANCE_ID"`

	// Room lifecycle
	RoomTTL          time.Duration `env:"ROOM_TTL" envDefault:"24h"`
	EmptyRoomMinAge  time.Duration `env:"EMPTY_ROOM_MIN_AGE" envDefault:"60s"`
	DefaultDuration  float64       `env:"DEFAULT_VIDEO_DURATION" envDefault:"596"`
	DefaultMaxUsers  int           `env:"DEFAULT_MAX_USERS" envDefault:"10000"`
	LobbyMaxUsers    int           `env:"LOBBY_MAX_USERS" envDefault:"100000"`
	DefaultRoomID    string        `env:"DEFAULT_ROOM_ID" envDefault:"main-lobby"`

	// Batching / tick cadences
	CursorFlushInterval   time.Duration `env:"CURSOR_FLUSH_INTERVAL" envDefault:"100ms"`
	ReactionFlushInterval time.Duration `env:"REACTION_FLUSH_INTERVAL" envDefault:"100ms"`
	VideoTickInterval     time.Duration `env:"VIDEO_TICK_INTERVAL" envDefault:"500ms"`
	ServerTimeInterval    time.Duration `env:"SERVER_TIME_INTERVAL" envDefault:"1s"`
	RoomReapInterval      time.Duration `env:"ROOM_REAP_INTERVAL" envDefault:"60s"`
	BucketSweepInterval   time.Duration `env:"BUCKET_SWEEP_INTERVAL" envDefault:"10s"`
	ConnSweepInterval     time.Duration `env:"CONN_SWEEP_INTERVAL" envDefault:"60s"`

	// Connection admission gate
	ConnAdmissionWindow    time.Duration `env:"CONN_ADMISSION_WINDOW" envDefault:"60s"`
	ConnAdmissionThreshold int           `env:"CONN_ADMISSION_THRESHOLD" envDefault:"20"`

	// Session keepalive
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT" envDefault:"60s"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9095"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: real env vars > .env file > struct defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine outside local development.
		fmt.Fprintln(os.Stderr, "config: no .env file found, using process environment only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = fmt.Sprintf("instance-%d", os.Getpid())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations that would make the hub unsafe to run.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.DefaultDuration <= 0 {
		return fmt.Errorf("DEFAULT_VIDEO_DURATION must be positive, got %f", c.DefaultDuration)
	}
	if c.ConnAdmissionThreshold < 1 {
		return fmt.Errorf("CONN_ADMISSION_THRESHOLD must be >= 1, got %d", c.ConnAdmissionThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

// ClusterMode reports whether the hub was configured with a remote KV/pubsub
// backend. When false, the standalone in-process port is used instead.
func (c *Config) ClusterMode() bool {
	return c.KVURL != ""
}

// Log emits the resolved configuration at startup, mirroring ws/config.go's
// LogConfig.
func (c *Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("hostname", c.Hostname).
		Int("port", c.Port).
		Str("instance_id", c.InstanceID).
		Bool("cluster_mode", c.ClusterMode()).
		Dur("room_ttl", c.RoomTTL).
		Str("default_room", c.DefaultRoomID).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Msg("configuration loaded")
}
