package store

// Config locates the findings database.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	Path string `mapstructure:"path"`
}

func DefaultConfig() Config {
	return Config{Path: "fatt.db"}
}
