package types

// Config represents runtime configuration for graph execution
type Config[S any] struct {
	GraphID      string          // Unique identifier for the graph
	ThreadID     string          // Unique identifier for this execution thread
	MaxSteps     int             // Maximum number of node executions per run
	Timeout      int             // Timeout in seconds
	Checkpointer Checkpointer[S] // Optional checkpointer for state persistence
	Configurable map[string]any  // Additional configuration parameters
	Debug        bool            // Enable execution tracing
}

func (c *Config[S]) Clone() Config[S] {
	configurable := make(map[string]any, len(c.Configurable))
	for k, v := range c.Configurable {
		configurable[k] = v
	}
	return Config[S]{
		GraphID:      c.GraphID,
		ThreadID:     c.ThreadID,
		MaxSteps:     c.MaxSteps,
		Timeout:      c.Timeout,
		Checkpointer: c.Checkpointer,
		Configurable: configurable,
		Debug:        c.Debug,
	}
}
