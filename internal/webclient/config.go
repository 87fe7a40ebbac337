package webclient

import "time"

// Config controls the net/http backed client.
type Config struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration `mapstructure:"timeout"`

	// ConnectTimeout bounds TCP connection setup.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	UserAgent string `mapstructure:"user_agent"`

	// MaxBodyBytes caps how much of a response body is read. 0 means no cap.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// FollowRedirects makes the client follow 3xx responses instead of
	// returning them.
	FollowRedirects bool `mapstructure:"follow_redirects"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host"`
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		ConnectTimeout:      5 * time.Second,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		MaxBodyBytes:        5 << 20,
		FollowRedirects:     true,
		MaxIdleConnsPerHost: 2,
	}
}
