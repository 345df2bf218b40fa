package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the full construction surface for an engine/worker pair.
// The same structure serves two roles: the host loads or builds it, and
// the supervisor renders it into LUAWARD_* environment variables for the
// spawned worker, which loads it back with envconfig.
type Config struct {
	Engine    EngineConfig
	Isolation IsolationConfig
	Worker    WorkerConfig
	Logging   LogConfig
}

// EngineConfig bounds one interpreter instance.
type EngineConfig struct {
	MemoryLimit      uint64   `envconfig:"MEMORY_LIMIT" default:"5242880"`
	InstructionLimit uint64   `envconfig:"INSTRUCTION_LIMIT" default:"0"`
	CallbackNames    []string `envconfig:"CALLBACK_NAMES"`
}

// IsolationConfig holds the OS-level restrictions for a worker process.
type IsolationConfig struct {
	UID             int    `envconfig:"UID" default:"-1"`
	GID             int    `envconfig:"GID" default:"-1"`
	FullIsolation   bool   `envconfig:"FULL_ISOLATION" default:"false"`
	CPULimitSeconds uint64 `envconfig:"CPU_LIMIT_SECONDS" default:"0"`
}

// WorkerConfig locates the worker binary.
type WorkerConfig struct {
	Path string `envconfig:"WORKER_PATH" default:"luaward-worker"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from LUAWARD_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("luaward", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Default returns the stock configuration: 5 MiB of guest memory, no
// instruction ceiling, no privilege changes, isolation off.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MemoryLimit: 5 * 1024 * 1024,
		},
		Isolation: IsolationConfig{
			UID: -1,
			GID: -1,
		},
		Worker: WorkerConfig{
			Path: "luaward-worker",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Environ renders the configuration as the environment of a spawned
// worker. Load on the worker side is the inverse.
func (c *Config) Environ() []string {
	env := []string{
		"LUAWARD_MEMORY_LIMIT=" + strconv.FormatUint(c.Engine.MemoryLimit, 10),
		"LUAWARD_INSTRUCTION_LIMIT=" + strconv.FormatUint(c.Engine.InstructionLimit, 10),
		"LUAWARD_UID=" + strconv.Itoa(c.Isolation.UID),
		"LUAWARD_GID=" + strconv.Itoa(c.Isolation.GID),
		"LUAWARD_FULL_ISOLATION=" + strconv.FormatBool(c.Isolation.FullIsolation),
		"LUAWARD_CPU_LIMIT_SECONDS=" + strconv.FormatUint(c.Isolation.CPULimitSeconds, 10),
		"LUAWARD_LOG_LEVEL=" + c.Logging.Level,
		"LUAWARD_LOG_DEV=" + strconv.FormatBool(c.Logging.Development),
	}
	if len(c.Engine.CallbackNames) > 0 {
		env = append(env, "LUAWARD_CALLBACK_NAMES="+strings.Join(c.Engine.CallbackNames, ","))
	}
	return env
}
