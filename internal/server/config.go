package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address for the master admin API.
	ListenAddr string `mapstructure:"listen_addr"`

	// PushInterval is how often /ws/workers sends a registry snapshot.
	PushInterval time.Duration `mapstructure:"push_interval"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:7879",
		PushInterval: 2 * time.Second,
	}
}
