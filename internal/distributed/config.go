package distributed

import "time"

// MasterConfig controls the coordinator.
type MasterConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// RegisterTimeout bounds the wait for a new connection's Register.
	RegisterTimeout time.Duration `mapstructure:"register_timeout"`

	// HeartbeatInterval is how often the master polls workers. 0 disables polling.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// BatchSize is the number of domains per ScanRequest.
	BatchSize int `mapstructure:"batch_size"`

	// MinWorkers is how many workers a distributed scan waits for.
	MinWorkers int `mapstructure:"min_workers"`

	// WorkerWaitTimeout bounds that wait.
	WorkerWaitTimeout time.Duration `mapstructure:"worker_wait_timeout"`
}

func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		ListenAddr:        "0.0.0.0:7878",
		RegisterTimeout:   10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		BatchSize:         50,
		MinWorkers:        1,
		WorkerWaitTimeout: time.Minute,
	}
}

// WorkerConfig controls a worker process.
type WorkerConfig struct {
	MasterAddr string `mapstructure:"master_addr"`

	// ID identifies the worker. Empty generates a random id.
	ID string `mapstructure:"id"`

	// MaxConcurrency bounds concurrent domain scans across all batches.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MasterAddr:        "127.0.0.1:7878",
		MaxConcurrency:    10,
		HeartbeatInterval: 15 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}
