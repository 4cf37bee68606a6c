package logger

// Config controls where and how verbosely the server logs.
type Config struct {
	Level      string `toml:"level"`
	FileName   string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxAge     int    `toml:"max_age"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

// DefaultConfig logs INFO and above to stderr only.
func DefaultConfig() Config {
	return Config{
		Level:      "INFO",
		MaxSize:    500,
		MaxAge:     30,
		MaxBackups: 20,
		Compress:   true,
	}
}
