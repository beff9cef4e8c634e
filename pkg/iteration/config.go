package iteration

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxConcurrent = "DAEDALUS_MAX_CONCURRENT"
	EnvMultiplier    = "DAEDALUS_CONCURRENCY_MULTIPLIER"
	EnvStrategy      = "DAEDALUS_ITERATION_STRATEGY"
)

// ConfigSource indicates where MaxConcurrent came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// LoadedConfig is a Config together with how it was derived.
type LoadedConfig struct {
	Config
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig builds a Config with priority: env vars > auto-detection.
// An unknown strategy falls back to sequential.
func LoadConfig() LoadedConfig {
	lc := LoadedConfig{
		IsKubernetes:  os.Getenv("KUBERNETES_SERVICE_HOST") != "",
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if n := envInt(EnvMaxConcurrent); n > 0 {
		lc.MaxConcurrent = n
		lc.Source = ConfigSourceEnvVar
	} else if m := envInt(EnvMultiplier); m > 0 {
		lc.MaxConcurrent = lc.EffectiveCPUs * m
		lc.Source = ConfigSourceEnvVar
	} else {
		lc.MaxConcurrent = defaultMaxConcurrent(lc.IsKubernetes, lc.EffectiveCPUs)
		lc.Source = ConfigSourceAutoDetect
	}
	if lc.MaxConcurrent < 1 {
		lc.MaxConcurrent = 1
	}

	lc.Strategy = Strategy(strings.ToLower(os.Getenv(EnvStrategy)))
	if lc.Strategy != StrategyParallel {
		lc.Strategy = StrategySequential
	}
	return lc
}

// Kubernetes containers get a conservative budget.
func defaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus
	}
	return cpus * 2
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

// String returns a formatted string representation of the config
func (c LoadedConfig) String() string {
	return fmt.Sprintf("Config{Strategy: %s, MaxConcurrent: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.Strategy, c.MaxConcurrent, c.IsKubernetes, c.EffectiveCPUs, c.Source)
}

// SetMaxProcs sets GOMAXPROCS to the container CPU quota. Call it at the start
// of main, before LoadConfig. The returned function restores the old value.
func SetMaxProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
		return func() {}
	}
	return undo
}
