package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the mediacache daemon.
type Config struct {
	// Server configuration
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Addr string `mapstructure:"-"` // computed from Host:Port

	// Cache tree
	CacheRoot    string `mapstructure:"cache_root"`
	AbsCacheRoot string `mapstructure:"-"`
	TmpRoot      string `mapstructure:"tmp_root"`
	AbsTmpRoot   string `mapstructure:"-"`

	// Retention policy
	MaxCacheAgeDays int `mapstructure:"max_cache_age_days"` // 0 disables age eviction
	MaxCacheSizeMB  int `mapstructure:"max_cache_size_mb"`  // 0 disables size eviction
	MaintenanceHour int `mapstructure:"maintenance_hour"`   // local hour of the daily sweep

	// Request gating
	CooldownSeconds    int `mapstructure:"cooldown_seconds"`
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"` // 0 disables the cap

	// Worker behavior
	Workers     int    `mapstructure:"workers"`
	QueueCap    int    `mapstructure:"queue_cap"`
	CookiesFile string `mapstructure:"cookies_file"`

	// History store
	DBPath    string `mapstructure:"db_path"`
	AbsDBPath string `mapstructure:"-"`

	// Logging
	LogLevel string `mapstructure:"log_level"` // debug|info|warn|error

	// Computed
	StartTime time.Time `mapstructure:"-"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8080,
		MaxCacheAgeDays:    7,
		MaxCacheSizeMB:     4096,
		MaintenanceHour:    3,
		CooldownSeconds:    20,
		MaxDurationSeconds: 1800,
		Workers:            4,
		QueueCap:           128,
		LogLevel:           "info",
		StartTime:          time.Now(),
	}
}

// Load reads configuration from an optional YAML file and MEDIACACHE_*
// environment variables, layered over the defaults from New. An empty
// configPath skips the file entirely.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("mediacache")
	v.AutomaticEnv()

	def := New()
	v.SetDefault("host", def.Host)
	v.SetDefault("port", def.Port)
	v.SetDefault("cache_root", "")
	v.SetDefault("tmp_root", "")
	v.SetDefault("max_cache_age_days", def.MaxCacheAgeDays)
	v.SetDefault("max_cache_size_mb", def.MaxCacheSizeMB)
	v.SetDefault("maintenance_hour", def.MaintenanceHour)
	v.SetDefault("cooldown_seconds", def.CooldownSeconds)
	v.SetDefault("max_duration_seconds", def.MaxDurationSeconds)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("queue_cap", def.QueueCap)
	v.SetDefault("cookies_file", "")
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", def.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{StartTime: time.Now()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid
// and normalizes derived fields.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.Workers < 1 {
		c.Workers = runtime.NumCPU()
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.QueueCap < 1 {
		c.QueueCap = 128
	}

	if c.MaxCacheAgeDays < 0 {
		return fmt.Errorf("invalid max_cache_age_days: %d", c.MaxCacheAgeDays)
	}
	if c.MaxCacheSizeMB < 0 {
		return fmt.Errorf("invalid max_cache_size_mb: %d", c.MaxCacheSizeMB)
	}
	if c.MaintenanceHour < 0 || c.MaintenanceHour > 23 {
		return fmt.Errorf("invalid maintenance_hour: %d (must be 0-23)", c.MaintenanceHour)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("invalid cooldown_seconds: %d", c.CooldownSeconds)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	if c.CookiesFile != "" {
		if _, err := os.Stat(c.CookiesFile); err != nil {
			return fmt.Errorf("cookies file: %w", err)
		}
	}

	c.Addr = c.ComputeAddr()
	return nil
}

// ResolveDirs expands the cache and temp roots to absolute paths, filling in
// defaults when unset, and creates both directories.
func (c *Config) ResolveDirs() error {
	if c.CacheRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		c.CacheRoot = filepath.Join(home, ".cache", "mediacache", "files")
	}
	abs, err := expandPath(c.CacheRoot)
	if err != nil {
		return err
	}
	c.AbsCacheRoot = abs

	if c.TmpRoot == "" {
		c.TmpRoot = filepath.Join(filepath.Dir(c.AbsCacheRoot), "tmp")
	}
	absTmp, err := expandPath(c.TmpRoot)
	if err != nil {
		return err
	}
	c.AbsTmpRoot = absTmp

	if c.AbsTmpRoot == c.AbsCacheRoot {
		return fmt.Errorf("tmp_root must differ from cache_root: %s", c.AbsTmpRoot)
	}

	for _, dir := range []string{c.AbsCacheRoot, c.AbsTmpRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveDBPath expands the history database path, defaulting to the OS
// cache directory.
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	abs, err := expandPath(c.DBPath)
	if err != nil {
		return err
	}
	c.AbsDBPath = abs
	return os.MkdirAll(filepath.Dir(abs), 0o755)
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Cooldown returns the per-requester cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// MaxCacheAge returns the age eviction threshold; zero means disabled.
func (c *Config) MaxCacheAge() time.Duration {
	return time.Duration(c.MaxCacheAgeDays) * 24 * time.Hour
}

// MaxCacheSizeBytes returns the size eviction threshold; zero means disabled.
func (c *Config) MaxCacheSizeBytes() int64 {
	return int64(c.MaxCacheSizeMB) * 1024 * 1024
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":             c.Addr,
		"cache_root":       c.AbsCacheRoot,
		"tmp_root":         c.AbsTmpRoot,
		"db_path":          c.AbsDBPath,
		"max_age_days":     c.MaxCacheAgeDays,
		"max_size_mb":      c.MaxCacheSizeMB,
		"maintenance_hour": c.MaintenanceHour,
		"cooldown_s":       c.CooldownSeconds,
		"workers":          c.Workers,
		"queue":            c.QueueCap,
		"log_level":        c.LogLevel,
	}
}

// expandPath expands a leading ~ and resolves the path to absolute form.
func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") || p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", p, err)
	}
	return abs, nil
}

// defaultDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/mediacache/history.db
// - Linux/macOS: $HOME/.cache/mediacache/history.db
func defaultDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "mediacache", "history.db")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "mediacache", "history.db")
		}
		return "history.db"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "mediacache", "history.db")
	}
	return filepath.Join("mediacache", "history.db")
}
