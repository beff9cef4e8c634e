package script

import (
	"fmt"
	"time"
)

// Security levels for the script sandbox
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config configures an Engine
type Config struct {
	// Timeout bounds a single evaluation of a computed property
	Timeout time.Duration `json:"timeout,omitempty"`

	// SecurityLevel defines sandbox restrictions (strict, standard, permissive)
	SecurityLevel string `json:"security_level,omitempty"`

	// MaxStackDepth is the maximum JavaScript call stack depth
	MaxStackDepth int `json:"max_stack_depth,omitempty"`

	// PoolSize is the maximum number of runtimes evaluating at once
	PoolSize int `json:"pool_size,omitempty"`

	// MaxReuse is how many evaluations a runtime serves before it is replaced
	MaxReuse int `json:"max_reuse,omitempty"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       time.Second,
		SecurityLevel: SecurityLevelStandard,
		MaxStackDepth: 100,
		PoolSize:      8,
		MaxReuse:      10000,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = def.SecurityLevel
	}
	if c.MaxStackDepth == 0 {
		c.MaxStackDepth = def.MaxStackDepth
	}
	if c.PoolSize == 0 {
		c.PoolSize = def.PoolSize
	}
	if c.MaxReuse == 0 {
		c.MaxReuse = def.MaxReuse
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	switch c.SecurityLevel {
	case SecurityLevelStrict, SecurityLevelStandard, SecurityLevelPermissive:
	default:
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxStackDepth <= 0 {
		return fmt.Errorf("max_stack_depth must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}
	if c.MaxReuse <= 0 {
		return fmt.Errorf("max_reuse must be positive")
	}
	return nil
}
