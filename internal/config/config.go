// Package config loads the orchestration engine's configuration tree via
// viper: built-in defaults, an optional config file, and environment
// variable overrides under the ORCHESTRATOR prefix.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig controls the REST/WebSocket listener.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// PoolConfig controls worker instance lifecycle.
type PoolConfig struct {
	MaxInstances      int
	WorkerCommand     string
	WorkerArgs        []string
	OutputBufferBytes int
	HealthSweepPeriod time.Duration
	UnhealthyAfter    time.Duration
	TerminateGrace    time.Duration
}

// QueueConfig controls task dispatch.
type QueueConfig struct {
	DefaultTimeout time.Duration
	Dispatchers    int
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// WorkflowConfig controls YAML workflow loading.
type WorkflowConfig struct {
	Directory string
}

// Config is the full configuration tree for the engine.
type Config struct {
	LogLevel string
	Server   ServerConfig
	Pool     PoolConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
	Workflow WorkflowConfig
}

// Load reads configuration from an optional file plus environment
// overrides; a missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("orchestrator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/orchestrator")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Pool: PoolConfig{
			MaxInstances:      v.GetInt("pool.max_instances"),
			WorkerCommand:     v.GetString("pool.worker_command"),
			WorkerArgs:        v.GetStringSlice("pool.worker_args"),
			OutputBufferBytes: v.GetInt("pool.output_buffer_bytes"),
			HealthSweepPeriod: v.GetDuration("pool.health_sweep_period"),
			UnhealthyAfter:    v.GetDuration("pool.unhealthy_after"),
			TerminateGrace:    v.GetDuration("pool.terminate_grace"),
		},
		Queue: QueueConfig{
			DefaultTimeout: v.GetDuration("queue.default_timeout"),
			Dispatchers:    v.GetInt("queue.dispatchers"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
		Workflow: WorkflowConfig{
			Directory: v.GetString("workflow.directory"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("pool.max_instances", 10)
	v.SetDefault("pool.worker_command", "claude")
	v.SetDefault("pool.worker_args", []string{})
	v.SetDefault("pool.output_buffer_bytes", 64*1024)
	v.SetDefault("pool.health_sweep_period", 10*time.Second)
	v.SetDefault("pool.unhealthy_after", 30*time.Second)
	v.SetDefault("pool.terminate_grace", 5*time.Second)

	v.SetDefault("queue.default_timeout", 5*time.Minute)
	v.SetDefault("queue.dispatchers", 4)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("workflow.directory", "./workflows")
}
