// Package config resolves the gate's runtime configuration. Connection
// details and the signing secret come from the environment; operational
// tunables (bucket sizes, TTLs, worker batching) can be overridden with an
// optional YAML file pointed at by GATE_CONFIG.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Port           string
	SigningSecret  string
	RedisURL       string
	DatabaseURL    string
	DefaultOffline bool

	Tunables Tunables
}

type Tunables struct {
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Replay      ReplayConfig      `yaml:"replay"`
	Worker      WorkerConfig      `yaml:"worker"`
}

type RateLimitConfig struct {
	Capacity     int     `yaml:"capacity"`
	RefillPerSec float64 `yaml:"refill_per_sec"`
}

type IdempotencyConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type ReplayConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

type WorkerConfig struct {
	BatchSize int `yaml:"batch_size"`
	BlockMs   int `yaml:"block_ms"`
	PollMs    int `yaml:"poll_ms"`
}

// DefaultTunables matches the deployed defaults: 10 requests/min sustained
// with burst 10, 5-minute idempotency memos, 12-hour nonce retention.
func DefaultTunables() Tunables {
	return Tunables{
		RateLimit:   RateLimitConfig{Capacity: 10, RefillPerSec: 10.0 / 60.0},
		Idempotency: IdempotencyConfig{TTLSeconds: 300},
		Replay:      ReplayConfig{TTLHours: 12},
		Worker:      WorkerConfig{BatchSize: 50, BlockMs: 5000, PollMs: 1000},
	}
}

// Load reads configuration from the environment. TICKET_SIGNING_SECRET,
// REDIS_URL and DATABASE_URL are required; everything else has defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     os.Getenv("PORT"),
		Tunables: DefaultTunables(),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.SigningSecret = os.Getenv("TICKET_SIGNING_SECRET")
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("TICKET_SIGNING_SECRET is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.DefaultOffline = strings.EqualFold(os.Getenv("OFFLINE_MODE"), "true")

	if path := os.Getenv("GATE_CONFIG"); path != "" {
		if err := loadTunables(path, &cfg.Tunables); err != nil {
			return nil, fmt.Errorf("load tunables %s: %w", path, err)
		}
	}

	return cfg, nil
}

func loadTunables(path string, t *Tunables) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	return decoder.Decode(t)
}

func (t Tunables) IdempotencyTTL() time.Duration {
	return time.Duration(t.Idempotency.TTLSeconds) * time.Second
}

func (t Tunables) ReplayTTL() time.Duration {
	return time.Duration(t.Replay.TTLHours) * time.Hour
}

func (t Tunables) WorkerBlock() time.Duration {
	return time.Duration(t.Worker.BlockMs) * time.Millisecond
}

func (t Tunables) WorkerPoll() time.Duration {
	return time.Duration(t.Worker.PollMs) * time.Millisecond
}
