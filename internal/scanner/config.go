package scanner

import "time"

// Config controls the scan engine.
type Config struct {
	// Concurrency bounds how many domains are scanned at once, across batches.
	Concurrency int `mapstructure:"concurrency"`

	// RuleConcurrency bounds parallel rule probes within one domain.
	RuleConcurrency int `mapstructure:"rule_concurrency"`

	// BatchSize is the number of domains per batch. 0 runs a single batch.
	BatchSize int `mapstructure:"batch_size"`

	// ProgressInterval is the period of progress log lines. 0 disables them.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`

	// BackoffMin and BackoffMax bound the random pause after an HTTP 429.
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`

	// DNSOnly resolves domains without probing any rule.
	DNSOnly bool `mapstructure:"dns_only"`
}

func DefaultConfig() Config {
	return Config{
		Concurrency:      50,
		RuleConcurrency:  4,
		BatchSize:        100,
		ProgressInterval: 5 * time.Second,
		BackoffMin:       time.Second,
		BackoffMax:       5 * time.Second,
	}
}
