package demoserver

// Config holds configuration for the demo server.
type Config struct {
	// Port is the port on which the demo server listens.
	Port int

	// HiddenPaths start out not exposed and answer 404 until toggled.
	HiddenPaths []string

	// RateLimitEvery makes every Nth file request answer 429. 0 disables it.
	RateLimitEvery int

	// RejectHead answers HEAD with 405 so scanners must fall back to GET.
	RejectHead bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port: 9999,
	}
}
