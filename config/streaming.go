// Package config loads the two configuration surfaces the runtime recognizes:
// the per-instance agent configuration and the project-wide streaming
// configuration. Both are parsed with gopkg.in/yaml.v3. The streaming
// configuration applies environment variables over the file, which overrides
// built-in defaults; the per-instance configuration comes from agent.yaml and
// built-in defaults only, with no environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
)

// Streaming is the parsed, defaulted, env-overridden shape of streaming.yaml.
type Streaming struct {
	Redis      RedisConfig      `yaml:"redis"`
	AsyncWrite AsyncWriteConfig `yaml:"async_write"`
}

// RedisConfig carries the MessageBus's broker connection parameters.
type RedisConfig struct {
	URL            string `yaml:"url"`
	DB             int    `yaml:"db"`
	MaxConnections int    `yaml:"max_connections"`
}

// AsyncWriteConfig carries the JSONLWriter's batching parameters.
type AsyncWriteConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// defaultStreaming returns the built-in defaults, used when streaming.yaml is
// absent and no environment variable overrides a field.
func defaultStreaming() Streaming {
	return Streaming{
		Redis: RedisConfig{
			URL:            "redis://localhost:6379",
			DB:             0,
			MaxConnections: 50,
		},
		AsyncWrite: AsyncWriteConfig{
			BatchSize:     10,
			FlushInterval: time.Second,
		},
	}
}

// LoadStreaming loads streaming.yaml from path (if non-empty and the file
// exists) layered over defaults, then applies environment variable
// overrides. Precedence: env > file > defaults, exactly as specified.
//
// Recognized environment variables: REDIS_URL, REDIS_DB,
// REDIS_MAX_CONNECTIONS, ASYNC_WRITE_BATCH_SIZE,
// ASYNC_WRITE_FLUSH_INTERVAL_MS.
func LoadStreaming(path string) (Streaming, error) {
	cfg := defaultStreaming()

	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			var fromFile struct {
				Redis      *RedisConfig `yaml:"redis"`
				AsyncWrite *struct {
					BatchSize            int     `yaml:"batch_size"`
					FlushIntervalSeconds float64 `yaml:"flush_interval"`
				} `yaml:"async_write"`
			}
			if err := yaml.Unmarshal(raw, &fromFile); err != nil {
				return Streaming{}, runtimeerr.NewConfigError("streaming.yaml", err.Error())
			}
			if fromFile.Redis != nil {
				if fromFile.Redis.URL != "" {
					cfg.Redis.URL = fromFile.Redis.URL
				}
				if fromFile.Redis.DB != 0 {
					cfg.Redis.DB = fromFile.Redis.DB
				}
				if fromFile.Redis.MaxConnections != 0 {
					cfg.Redis.MaxConnections = fromFile.Redis.MaxConnections
				}
			}
			if fromFile.AsyncWrite != nil {
				if fromFile.AsyncWrite.BatchSize != 0 {
					cfg.AsyncWrite.BatchSize = fromFile.AsyncWrite.BatchSize
				}
				if fromFile.AsyncWrite.FlushIntervalSeconds != 0 {
					cfg.AsyncWrite.FlushInterval = time.Duration(fromFile.AsyncWrite.FlushIntervalSeconds * float64(time.Second))
				}
			}
		} else if !os.IsNotExist(err) {
			return Streaming{}, runtimeerr.NewConfigError("streaming.yaml", err.Error())
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Streaming{}, runtimeerr.NewConfigError("REDIS_DB", "not an integer")
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("REDIS_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Streaming{}, runtimeerr.NewConfigError("REDIS_MAX_CONNECTIONS", "not an integer")
		}
		cfg.Redis.MaxConnections = n
	}
	if v := os.Getenv("ASYNC_WRITE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Streaming{}, runtimeerr.NewConfigError("ASYNC_WRITE_BATCH_SIZE", "not an integer")
		}
		cfg.AsyncWrite.BatchSize = n
	}
	if v := os.Getenv("ASYNC_WRITE_FLUSH_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Streaming{}, runtimeerr.NewConfigError("ASYNC_WRITE_FLUSH_INTERVAL_MS", "not an integer")
		}
		cfg.AsyncWrite.FlushInterval = time.Duration(n) * time.Millisecond
	}

	return cfg, nil
}

// DefaultStreamingPath resolves streaming.yaml at the project root, matching
// the source's "look in the current working directory" convention.
func DefaultStreamingPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return "streaming.yaml"
	}
	return filepath.Join(wd, "streaming.yaml")
}
