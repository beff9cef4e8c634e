package iteration

import "fmt"

// Strategy defines how independent sources are grouped
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Group sources one by one
	StrategyParallel   Strategy = "parallel"   // Group sources concurrently
)

// Config holds configuration for batch grouping
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategySequential, StrategyParallel, "":
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent cannot be negative")
	}
	return nil
}

// Result is the grouping of one source.
type Result struct {
	// Objects are the root objects of the source, in order
	Objects []any
	// Session is the id of the session that grouped the source
	Session string
}
