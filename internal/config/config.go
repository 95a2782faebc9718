// Package config holds process-wide configuration for cmd/taskscheduler.
package config

// Config holds configuration for the task scheduler server.
type Config struct {
	Addr          string // Listen address (default ":8080")
	LogLevel      string // Log level: debug, info, warn, error
	LogFormat     string // Log format: text, json
	DBPath        string // SQLite database path (default ./taskgraph.db, ":memory:" for testing)
	MaxConcurrent int    // Dispatcher concurrency cap (default 3)
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Addr:          ":8080",
		LogLevel:      "info",
		LogFormat:     "text",
		DBPath:        "taskgraph.db",
		MaxConcurrent: 3,
	}
}
