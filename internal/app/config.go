package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/resolver"
	"github.com/raysh454/fatt/internal/scanner"
	"github.com/raysh454/fatt/internal/server"
	"github.com/raysh454/fatt/internal/store"
	"github.com/raysh454/fatt/internal/webclient"
)

var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes environment overrides, e.g. FATT_SCANNER_CONCURRENCY.
const EnvPrefix = "FATT"

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// Config is the runtime configuration shared by every command.
type Config struct {
	// InputPath is the domain list, one per line.
	InputPath string `mapstructure:"input"`

	// RulesPath is the YAML rules file.
	RulesPath string `mapstructure:"rules"`

	Log       LogConfig                `mapstructure:"log"`
	Scanner   scanner.Config           `mapstructure:"scanner"`
	Resolver  resolver.Config          `mapstructure:"resolver"`
	WebClient webclient.Config         `mapstructure:"webclient"`
	Store     store.Config             `mapstructure:"store"`
	Master    distributed.MasterConfig `mapstructure:"master"`
	Worker    distributed.WorkerConfig `mapstructure:"worker"`
	Admin     server.Config            `mapstructure:"admin"`
}

// DefaultConfig returns a Config populated with the defaults of every module.
func DefaultConfig() *Config {
	return &Config{
		InputPath: "domains.txt",
		RulesPath: "rules.yaml",
		Log:       LogConfig{Level: "info"},
		Scanner:   scanner.DefaultConfig(),
		Resolver:  resolver.DefaultConfig(),
		WebClient: webclient.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Master:    distributed.DefaultMasterConfig(),
		Worker:    distributed.DefaultWorkerConfig(),
		Admin:     server.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("input", d.InputPath)
	v.SetDefault("rules", d.RulesPath)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("scanner.concurrency", d.Scanner.Concurrency)
	v.SetDefault("scanner.rule_concurrency", d.Scanner.RuleConcurrency)
	v.SetDefault("scanner.batch_size", d.Scanner.BatchSize)
	v.SetDefault("scanner.progress_interval", d.Scanner.ProgressInterval)
	v.SetDefault("scanner.backoff_min", d.Scanner.BackoffMin)
	v.SetDefault("scanner.backoff_max", d.Scanner.BackoffMax)
	v.SetDefault("scanner.dns_only", d.Scanner.DNSOnly)

	v.SetDefault("resolver.max_concurrent", d.Resolver.MaxConcurrent)
	v.SetDefault("resolver.timeout", d.Resolver.Timeout)
	v.SetDefault("resolver.positive_ttl", d.Resolver.PositiveTTL)
	v.SetDefault("resolver.negative_ttl", d.Resolver.NegativeTTL)
	v.SetDefault("resolver.nameservers", d.Resolver.Nameservers)
	v.SetDefault("resolver.cache_path", d.Resolver.CachePath)

	v.SetDefault("webclient.timeout", d.WebClient.Timeout)
	v.SetDefault("webclient.connect_timeout", d.WebClient.ConnectTimeout)
	v.SetDefault("webclient.user_agent", d.WebClient.UserAgent)
	v.SetDefault("webclient.max_body_bytes", d.WebClient.MaxBodyBytes)
	v.SetDefault("webclient.follow_redirects", d.WebClient.FollowRedirects)
	v.SetDefault("webclient.insecure_skip_verify", d.WebClient.InsecureSkipVerify)
	v.SetDefault("webclient.max_idle_conns_per_host", d.WebClient.MaxIdleConnsPerHost)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("master.listen_addr", d.Master.ListenAddr)
	v.SetDefault("master.register_timeout", d.Master.RegisterTimeout)
	v.SetDefault("master.heartbeat_interval", d.Master.HeartbeatInterval)
	v.SetDefault("master.batch_size", d.Master.BatchSize)
	v.SetDefault("master.min_workers", d.Master.MinWorkers)
	v.SetDefault("master.worker_wait_timeout", d.Master.WorkerWaitTimeout)

	v.SetDefault("worker.master_addr", d.Worker.MasterAddr)
	v.SetDefault("worker.id", d.Worker.ID)
	v.SetDefault("worker.max_concurrency", d.Worker.MaxConcurrency)
	v.SetDefault("worker.heartbeat_interval", d.Worker.HeartbeatInterval)
	v.SetDefault("worker.dial_timeout", d.Worker.DialTimeout)

	v.SetDefault("admin.listen_addr", d.Admin.ListenAddr)
	v.SetDefault("admin.push_interval", d.Admin.PushInterval)
}

// LoadConfig layers defaults, an optional YAML file and FATT_* environment
// variables. With an empty path, ./fatt.yaml is read if present.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fatt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every mode depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Scanner.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scanner.concurrency must be greater than 0, got %d", c.Scanner.Concurrency))
	}
	if c.Scanner.RuleConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("scanner.rule_concurrency must be greater than 0, got %d", c.Scanner.RuleConcurrency))
	}
	if c.Scanner.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("scanner.batch_size must not be negative, got %d", c.Scanner.BatchSize))
	}
	if c.Scanner.BackoffMin > c.Scanner.BackoffMax {
		errs = append(errs, fmt.Errorf("scanner.backoff_min %s exceeds backoff_max %s", c.Scanner.BackoffMin, c.Scanner.BackoffMax))
	}
	if c.Resolver.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("resolver.max_concurrent must be greater than 0, got %d", c.Resolver.MaxConcurrent))
	}
	if c.Resolver.CachePath == "" {
		errs = append(errs, errors.New("resolver.cache_path is required"))
	}
	if c.Worker.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_concurrency must be greater than 0, got %d", c.Worker.MaxConcurrency))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateScanInputs checks that the domain list and rules file exist.
func (c *Config) ValidateScanInputs() error {
	for _, p := range []struct{ name, path string }{
		{"input", c.InputPath},
		{"rules", c.RulesPath},
	} {
		if p.path == "" {
			return fmt.Errorf("%w: %s path is required", ErrInvalidConfig, p.name)
		}
		if _, err := os.Stat(p.path); err != nil {
			return fmt.Errorf("%w: %s file: %w", ErrInvalidConfig, p.name, err)
		}
	}
	return nil
}

// ResolverConfig returns the resolver settings with the gate raised to at
// least the engine's domain concurrency.
func (c *Config) ResolverConfig() resolver.Config {
	rc := c.Resolver
	if rc.MaxConcurrent < c.Scanner.Concurrency {
		rc.MaxConcurrent = c.Scanner.Concurrency
	}
	return rc
}

// NewLogger builds the process logger writing JSON lines to w.
func NewLogger(cfg LogConfig, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(w, level, "fatt"), nil
}
