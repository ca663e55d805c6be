// Package config loads the yaml configuration shared by the orchestrator and
// its workers. Spawned workers inherit the environment, so ARBOR_CONFIG and
// the ARBOR_* overrides reach every process in the tree.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go-arbor/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

type Config struct {
	Namespace    string             `yaml:"namespace"`
	Transport    TransportConfig    `yaml:"transport"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Worker       WorkerConfig       `yaml:"worker"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type TransportConfig struct {
	Kind      string `yaml:"kind"`
	RedisAddr string `yaml:"redis_addr"`

	// How long a redis publish waits for a freshly spawned subscriber
	JoinWaitMs int `yaml:"join_wait_ms"`
}

type OrchestratorConfig struct {
	HTTPAddr               string `yaml:"http_addr"`
	RootID                 int32  `yaml:"root_id"`
	SpawnRoot              bool   `yaml:"spawn_root"`
	LivenessTimeoutMs      int    `yaml:"liveness_timeout_ms"`
	JobTimeoutMs           int    `yaml:"job_timeout_ms"`
	SpawnTimeoutMs         int    `yaml:"spawn_timeout_ms"`
	HeartbeatTimeoutFactor int    `yaml:"heartbeat_timeout_factor"`
	ShutdownGraceMs        int    `yaml:"shutdown_grace_ms"`
}

type WorkerConfig struct {
	Binary         string `yaml:"binary"`
	ReplyTimeoutMs int    `yaml:"reply_timeout_ms"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Namespace: "arbor",
		Transport: TransportConfig{
			Kind:       TransportRedis,
			RedisAddr:  "localhost:6379",
			JoinWaitMs: 500,
		},
		Orchestrator: OrchestratorConfig{
			HTTPAddr:               ":8080",
			RootID:                 0,
			SpawnRoot:              true,
			LivenessTimeoutMs:      2000,
			JobTimeoutMs:           5000,
			SpawnTimeoutMs:         3000,
			HeartbeatTimeoutFactor: 4,
			ShutdownGraceMs:        500,
		},
		Worker: WorkerConfig{
			Binary:         "arbor-worker",
			ReplyTimeoutMs: 1000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads ARBOR_CONFIG (or fallbackPath), applies the environment
// overrides and validates the result.
func FromEnv(fallbackPath string) (Config, error) {
	path := os.Getenv("ARBOR_CONFIG")
	if path == "" {
		path = fallbackPath
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnv() {
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set("ARBOR_NAMESPACE", &c.Namespace)
	set("ARBOR_TRANSPORT", &c.Transport.Kind)
	set("ARBOR_REDIS_ADDR", &c.Transport.RedisAddr)
	set("ARBOR_HTTP_ADDR", &c.Orchestrator.HTTPAddr)
	set("ARBOR_DATABASE_DSN", &c.Database.DSN)
	set("ARBOR_LOG_LEVEL", &c.Logging.Level)
	set("ARBOR_WORKER_BINARY", &c.Worker.Binary)
}

func (c Config) Validate() error {
	var errs []error
	if c.Namespace == "" || strings.Contains(c.Namespace, ":") {
		errs = append(errs, fmt.Errorf("namespace %q must be non-empty and contain no ':'", c.Namespace))
	}
	switch c.Transport.Kind {
	case TransportRedis:
		if c.Transport.RedisAddr == "" {
			errs = append(errs, errors.New("transport.redis_addr is required for the redis transport"))
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown transport kind %q", c.Transport.Kind))
	}
	if err := domain.ValidateID(domain.NodeID(c.Orchestrator.RootID)); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator.root_id: %w", err))
	}
	for name, v := range map[string]int{
		"orchestrator.liveness_timeout_ms": c.Orchestrator.LivenessTimeoutMs,
		"orchestrator.job_timeout_ms":      c.Orchestrator.JobTimeoutMs,
		"orchestrator.spawn_timeout_ms":    c.Orchestrator.SpawnTimeoutMs,
		"worker.reply_timeout_ms":          c.Worker.ReplyTimeoutMs,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Transport.JoinWaitMs < 0 {
		errs = append(errs, errors.New("transport.join_wait_ms must not be negative"))
	}
	if c.Orchestrator.HeartbeatTimeoutFactor <= 0 {
		errs = append(errs, errors.New("orchestrator.heartbeat_timeout_factor must be positive"))
	}

	// A check that gives up before the relaying worker does leaves that
	// worker busy, and the next check through it fails too
	bound := c.RelayBound()
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"orchestrator.liveness_timeout_ms", c.Orchestrator.LivenessTimeout()},
		{"orchestrator.job_timeout_ms", c.Orchestrator.JobTimeout()},
		{"orchestrator.spawn_timeout_ms", c.Orchestrator.SpawnTimeout()},
	} {
		if t.d > 0 && t.d <= bound {
			errs = append(errs, fmt.Errorf("%s (%s) must exceed the worker relay bound %s", t.name, t.d, bound))
		}
	}
	return errors.Join(errs...)
}

// RelayBound is the longest a worker stays blocked relaying to a dead
// child: the publish join wait on redis plus the reply timeout.
func (c Config) RelayBound() time.Duration {
	d := c.Worker.ReplyTimeout()
	if c.Transport.Kind == TransportRedis {
		d += c.Transport.JoinWait()
	}
	return d
}

func (t TransportConfig) JoinWait() time.Duration {
	return time.Duration(t.JoinWaitMs) * time.Millisecond
}

func (o OrchestratorConfig) LivenessTimeout() time.Duration {
	return time.Duration(o.LivenessTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) JobTimeout() time.Duration {
	return time.Duration(o.JobTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) SpawnTimeout() time.Duration {
	return time.Duration(o.SpawnTimeoutMs) * time.Millisecond
}

func (o OrchestratorConfig) ShutdownGrace() time.Duration {
	return time.Duration(o.ShutdownGraceMs) * time.Millisecond
}

func (w WorkerConfig) ReplyTimeout() time.Duration {
	return time.Duration(w.ReplyTimeoutMs) * time.Millisecond
}
