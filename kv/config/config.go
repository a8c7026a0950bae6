package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config carries the tunables of a transaction processor and of the
// benchmark driver. Zero-configuration use goes through NewDefaultConfig;
// a TOML file can override any field.
type Config struct {
	// Mode selects the concurrency control protocol. One of "serial",
	// "locking-exclusive", "locking", "occ", "p-occ".
	Mode string

	// Workers is the number of worker pool threads executing transaction
	// bodies (and validation tasks in p-occ).
	Workers int
	// TaskQueues is the number of task channels the workers are
	// multiplexed over. Submission round-robins across them to reduce
	// contention.
	TaskQueues int

	// ValidateIn and ValidateOut bound how many completed respectively
	// validated transactions the p-occ scheduler drains per iteration.
	ValidateIn  int
	ValidateOut int

	// ResultBuffer is the capacity of the result channel clients receive
	// finished transactions on.
	ResultBuffer int

	// BenchActiveTxns is how many transactions the benchmark keeps in
	// flight; BenchDuration is how long each measurement runs.
	BenchActiveTxns int
	BenchDuration   time.Duration

	LogLevel string
}

var validModes = map[string]bool{
	"serial":            true,
	"locking-exclusive": true,
	"locking":           true,
	"occ":               true,
	"p-occ":             true,
}

func (c *Config) Validate() error {
	if !validModes[c.Mode] {
		return errors.Errorf("unknown concurrency control mode %q", c.Mode)
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.TaskQueues <= 0 {
		return errors.Errorf("task queues must be positive, got %d", c.TaskQueues)
	}
	if c.ValidateIn <= 0 || c.ValidateOut <= 0 {
		return errors.Errorf("validation drain limits must be positive, got %d/%d",
			c.ValidateIn, c.ValidateOut)
	}
	if c.ResultBuffer <= 0 {
		return errors.Errorf("result buffer must be positive, got %d", c.ResultBuffer)
	}
	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Mode:            "locking",
		Workers:         100,
		TaskQueues:      10,
		ValidateIn:      200,
		ValidateOut:     200,
		ResultBuffer:    1024,
		BenchActiveTxns: 100,
		BenchDuration:   time.Second,
		LogLevel:        getLogLevel(),
	}
}

func NewTestConfig() *Config {
	return &Config{
		Mode:            "locking",
		Workers:         8,
		TaskQueues:      2,
		ValidateIn:      16,
		ValidateOut:     16,
		ResultBuffer:    64,
		BenchActiveTxns: 10,
		BenchDuration:   100 * time.Millisecond,
		LogLevel:        getLogLevel(),
	}
}

// FromTOML loads a config from path on top of the defaults.
func FromTOML(path string) (*Config, error) {
	c := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
