// Package loadtest drives every session of a model from concurrent goroutines, checking the outputs of each
// execution against the expected values, and reports the throughput.
//
// It is configured from the environment, with the prefix ENN: ENN_SESSION_COUNT, ENN_ITERATION_COUNT,
// ENN_DRIVER, ENN_MODE, ENN_ELEMENTS and ENN_DUMP_PREFIX. A YAML file with the same keys (in lower case,
// without the prefix) can be given instead, and the environment overrides it.
package loadtest

import (
	"os"
	"strings"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Mode selects how the sessions are driven.
type Mode string

const (
	// ModeThreads runs one goroutine per session, each one executing and waiting in a loop.
	ModeThreads Mode = "threads"

	// ModePipeline runs one producer goroutine submitting on idle sessions and one consumer goroutine
	// waiting on them, sharing a scheduler.SlotPool.
	ModePipeline Mode = "pipeline"
)

// EnvPrefix of the environment variables configuring the load test.
const EnvPrefix = "ENN"

// Config of a load test run.
type Config struct {
	SessionCount   int    `mapstructure:"session_count"`
	IterationCount int    `mapstructure:"iteration_count"`
	Mode           Mode   `mapstructure:"mode"`
	Elements       int    `mapstructure:"elements"`
	DumpPrefix     string `mapstructure:"dump_prefix"`

	// Driver configuration "<name>:<config>". Empty selects the default driver.
	Driver string `mapstructure:"driver"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		SessionCount:   4,
		IterationCount: 100,
		Mode:           ModeThreads,
		Elements:       1024,
	}
}

// LoadConfig reads the configuration from the YAML file at path, if not empty, and from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("session_count", cfg.SessionCount)
	v.SetDefault("iteration_count", cfg.IterationCount)
	v.SetDefault("mode", string(cfg.Mode))
	v.SetDefault("elements", cfg.Elements)
	v.SetDefault("dump_prefix", cfg.DumpPrefix)
	v.SetDefault("driver", cfg.Driver)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open load test configuration")
		}
		err = v.ReadConfig(f)
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse load test configuration in %q", path)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode load test configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate the configuration, normalizing the mode.
func (c *Config) Validate() error {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	switch {
	case c.SessionCount <= 0:
		return status.Errorf(status.ErrInvalidArgument, "session count must be positive, got %d", c.SessionCount)
	case c.IterationCount <= 0:
		return status.Errorf(status.ErrInvalidArgument, "iteration count must be positive, got %d", c.IterationCount)
	case c.Elements <= 0:
		return status.Errorf(status.ErrInvalidArgument, "number of elements must be positive, got %d", c.Elements)
	case c.Mode != ModeThreads && c.Mode != ModePipeline:
		return status.Errorf(status.ErrInvalidArgument, "invalid mode %q, valid values are %q and %q", c.Mode, ModeThreads, ModePipeline)
	}
	return nil
}
