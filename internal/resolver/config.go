package resolver

import "time"

// Config controls the caching resolver.
type Config struct {
	// MaxConcurrent bounds simultaneous resolutions, cache hits included.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// Timeout bounds one upstream lookup.
	Timeout time.Duration `mapstructure:"timeout"`

	// PositiveTTL is how long a successful resolution stays valid. 0 disables caching of successes.
	PositiveTTL time.Duration `mapstructure:"positive_ttl"`

	// NegativeTTL is how long a failed resolution stays valid. 0 disables caching of failures.
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`

	// Nameservers are "host" or "host:port" entries. Empty means /etc/resolv.conf.
	Nameservers []string `mapstructure:"nameservers"`

	// CachePath is the bbolt database file.
	CachePath string `mapstructure:"cache_path"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 100,
		Timeout:       5 * time.Second,
		PositiveTTL:   time.Hour,
		NegativeTTL:   5 * time.Minute,
		CachePath:     "cache/dns_cache.db",
	}
}
